package entityhub

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxRequestBody bounds the size of a sync request body.
const maxRequestBody = 32 << 20

func (h *Hub) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req SyncRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid sync request", err.Error())
		return
	}
	if req.ClientID == "" {
		req.ClientID = r.Header.Get(HeaderClientID)
	}

	resp, err := h.Execute(r.Context(), req)
	switch {
	case errors.Is(err, ErrClosed):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "")
		return
	case errors.Is(err, ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, "invalid sync request", err.Error())
		return
	case err != nil:
		h.logger.Error("sync failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sync failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderClientID, resp.ClientID)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("error writing sync response", "error", err)
	}
}

func (h *Hub) writeError(w http.ResponseWriter, code int, message, details string) {
	if err := writeError(w, code, message, details); err != nil {
		h.logger.Error("error writing error response", "error", err)
	}
}
