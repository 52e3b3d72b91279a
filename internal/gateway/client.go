package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/veil/internal/logging"
)

const writeWait = 10 * time.Second

// Client is one WebSocket connection. Writes are serialized; each chat
// request runs under a context that ends when the connection closes.
type Client struct {
	ConnID      string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	reqMu    sync.Mutex
	inflight map[string]context.CancelFunc
	closing  bool
	wg       sync.WaitGroup

	log *logging.Logger
}

// NewClient creates a Client for an upgraded connection. parent bounds the
// lifetime of every request the client starts.
func NewClient(parent context.Context, conn *websocket.Conn, log *logging.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	return &Client{
		ConnID:      id,
		Socket:      conn,
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		inflight:    make(map[string]context.CancelFunc),
		log:         log.With("connId", id),
	}
}

// Send sends a frame to the client. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(frame)
}

// ReadFrame reads the next frame from the WebSocket. A message that is not
// a JSON frame returns an error matching ErrBadFrame; the connection stays
// usable.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return f, nil
}

// begin registers a request and returns its context. ok is false when a
// request with the same id is already running or the client is closing.
func (c *Client) begin(id string) (ctx context.Context, done func(), ok bool) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if c.closing {
		return nil, nil, false
	}
	if _, busy := c.inflight[id]; busy {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.inflight[id] = cancel
	c.wg.Add(1)
	return ctx, func() {
		c.reqMu.Lock()
		delete(c.inflight, id)
		c.reqMu.Unlock()
		cancel()
		c.wg.Done()
	}, true
}

// CancelRequest aborts one in-flight request. It reports whether the id was
// running.
func (c *Client) CancelRequest(id string) bool {
	c.reqMu.Lock()
	cancel, ok := c.inflight[id]
	c.reqMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close cancels running requests, waits for them to finish and closes the
// connection.
func (c *Client) Close() error {
	c.reqMu.Lock()
	c.closing = true
	c.reqMu.Unlock()
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[connID]; !ok {
		return
	}
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
