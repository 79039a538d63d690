package entityhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by clients after Close.
var ErrClientClosed = errors.New("entityhub: client is closed")

// Client sends sync requests to a hub over HTTP.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the http.Client used for requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithClientID sets the client id. By default a random id is used.
func WithClientID(id string) ClientOption {
	return func(cl *Client) {
		cl.clientID = id
	}
}

// NewClient creates a client for the hub served at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		clientID:   uuid.NewString(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id the client identifies itself with.
func (c *Client) ClientID() string {
	return c.clientID
}

// Sync executes tasks on the hub. Task failures are reported in the results;
// the error is non-nil only if the request itself failed.
func (c *Client) Sync(ctx context.Context, tasks ...Task) (*SyncResponse, error) {
	body, err := json.Marshal(SyncRequest{ClientID: c.clientID, Tasks: tasks})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		var failure httpError
		if err := json.NewDecoder(res.Body).Decode(&failure); err != nil || failure.Error.Message == "" {
			return nil, fmt.Errorf("sync request failed with status %d", res.StatusCode)
		}
		return nil, fmt.Errorf("sync request failed with status %d: %s: %s",
			res.StatusCode, failure.Error.Message, failure.Error.Details)
	}
	var resp SyncResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &resp, nil
}

// WSClient sends sync requests over a WebSocket connection and receives
// change events as they are published.
type WSClient struct {
	conn     *websocket.Conn
	clientID string
	events   chan EventMessage

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan Frame
	err     error
	done    chan struct{}
}

// DialWebSocket connects to the WebSocket endpoint of the hub served at
// baseURL ("http://host" or "ws://host"). Events beyond the buffer of the
// Events channel are dropped.
func DialWebSocket(ctx context.Context, baseURL, clientID string) (*WSClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}
	c := &WSClient{
		conn:     conn,
		clientID: clientID,
		events:   make(chan EventMessage, DefaultEventBuffer),
		pending:  make(map[string]chan Frame),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ClientID returns the id of the connection.
func (c *WSClient) ClientID() string {
	return c.clientID
}

// Events returns the channel event messages are delivered to. It is closed
// when the connection ends.
func (c *WSClient) Events() <-chan EventMessage {
	return c.events
}

// Sync sends tasks and waits for their results.
func (c *WSClient) Sync(ctx context.Context, tasks ...Task) (*SyncResponse, error) {
	id := uuid.NewString()
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(Frame{Type: FrameSync, ID: id, Request: &SyncRequest{ClientID: c.clientID, Tasks: tasks}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send sync request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr()
	case frame := <-reply:
		if frame.Type == FrameError {
			return nil, fmt.Errorf("sync request failed: %s", frame.Error)
		}
		if frame.Response == nil {
			return nil, errors.New("sync response is empty")
		}
		return frame.Response, nil
	}
}

func (c *WSClient) readLoop() {
	defer close(c.events)
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case FrameEvents:
			if frame.Events == nil {
				continue
			}
			select {
			case c.events <- *frame.Events:
			default:
			}
		case FrameSync, FrameError:
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				reply <- frame
			}
		}
	}
}

func (c *WSClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			err = ErrClientClosed
		}
		c.err = err
	}
}

func (c *WSClient) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClientClosed
	}
	return c.err
}

// Close ends the connection.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.fail(ErrClientClosed)
	err := c.conn.Close()
	<-c.done
	return err
}
