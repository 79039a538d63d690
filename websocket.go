package entityhub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nlstn/go-entityhub/internal/observability"
	"github.com/nlstn/go-entityhub/internal/trackchanges"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsSendBuffer   = 64
	wsMaxMessage   = 32 << 20
)

// FrameType discriminates WebSocket frames.
type FrameType string

const (
	// FrameSync carries a SyncRequest from the client or a SyncResponse from the hub.
	FrameSync FrameType = "sync"
	// FrameEvents carries an EventMessage pushed by the hub.
	FrameEvents FrameType = "events"
	// FrameError reports a frame the hub could not process.
	FrameError FrameType = "error"
)

// Frame is one WebSocket message. Clients send sync frames with a request;
// the hub answers each with a sync frame holding the response, echoing ID.
type Frame struct {
	Type     FrameType     `json:"type"`
	ID       string        `json:"id,omitempty"`
	Request  *SyncRequest  `json:"request,omitempty"`
	Response *SyncResponse `json:"response,omitempty"`
	Events   *EventMessage `json:"events,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// wsConn is one WebSocket client. A single writer goroutine owns all writes
// to the connection; events are queued without blocking the publisher.
type wsConn struct {
	hub      *Hub
	conn     *websocket.Conn
	clientID string

	send   chan []byte
	mu     sync.RWMutex
	closed bool
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has written the error response
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" || len(clientID) > maxClientIDLength {
		clientID = uuid.NewString()
	}
	c := &wsConn{
		hub:      h,
		conn:     conn,
		clientID: clientID,
		send:     make(chan []byte, wsSendBuffer),
	}

	handleCtx, handleCancel := context.WithCancel(context.Background())
	defer handleCancel()

	go func() {
		defer handleCancel()
		c.writeLoop(handleCtx)
	}()

	h.logger.Debug("websocket connected", observability.LogFieldClientID, clientID)
	c.readLoop(handleCtx)

	c.close()
	removed := h.tracker.UnsubscribeClient(clientID)
	h.logger.Debug("websocket disconnected", observability.LogFieldClientID, clientID, "subscriptions", removed)
}

func (c *wsConn) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Warn("websocket read failed", observability.LogFieldClientID, c.clientID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(ctx, Frame{Type: FrameError, Error: "invalid frame: " + err.Error()})
			continue
		}
		if frame.Type != FrameSync || frame.Request == nil {
			c.reply(ctx, Frame{Type: FrameError, ID: frame.ID, Error: "expected a sync frame with a request"})
			continue
		}

		req := *frame.Request
		req.ClientID = c.clientID
		if err := c.hub.validateRequest(req); err != nil {
			c.reply(ctx, Frame{Type: FrameError, ID: frame.ID, Error: err.Error()})
			continue
		}
		resp := c.hub.execute(ctx, req, c)
		c.reply(ctx, Frame{Type: FrameSync, ID: frame.ID, Response: resp})
	}
}

func (c *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Warn("websocket write failed", observability.LogFieldClientID, c.clientID, "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// reply queues a frame, waiting for room in the send buffer.
func (c *wsConn) reply(ctx context.Context, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Error("failed to encode websocket frame", "error", err)
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

// Deliver queues an event frame. It fails with trackchanges.ErrSinkFull
// instead of blocking when the client does not keep up.
func (c *wsConn) Deliver(ctx context.Context, msg EventMessage) error {
	ctx, span := c.hub.observability.Tracer().StartDelivery(ctx, c.clientID, len(msg.Events))
	defer span.End()

	data, err := json.Marshal(Frame{Type: FrameEvents, Events: &msg})
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return trackchanges.ErrSinkClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- data:
		return nil
	default:
		c.hub.observability.Tracer().RecordError(span, trackchanges.ErrSinkFull)
		return trackchanges.ErrSinkFull
	}
}

// close stops the writer and closes the connection.
func (c *wsConn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}
