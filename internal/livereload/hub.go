// Package livereload notifies connected browsers that changed files were
// rebuilt. Browsers subscribe over Server-Sent Events; the watcher and the
// server supervisor publish through Hub.Reload.
package livereload

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/taskforge/internal/logging"
)

// clientBuffer is the number of undelivered notifications a client may
// have before new ones are dropped for it.
const clientBuffer = 16

// Event is one reload notification.
type Event struct {
	ID    uint64    `json:"id"`
	Files []string  `json:"files"`
	Time  time.Time `json:"time"`
}

// Client is one subscriber.
type Client struct {
	events  chan Event
	dropped atomic.Int64
}

// Events returns the client's notifications. The channel is closed on
// Unsubscribe.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Dropped returns how many notifications were dropped because the client
// was not reading.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Hub fans reload notifications out to clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	seq     uint64
	logger  *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.WithComponent("livereload"),
	}
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() *Client {
	c := &Client{events: make(chan Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unsubscribe removes c and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.events)
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Reload sends a notification for files to every client without blocking;
// a client whose buffer is full misses it. It returns the event sent.
func (h *Hub) Reload(files []string) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{ID: h.seq, Files: append([]string(nil), files...), Time: time.Now()}
	for c := range h.clients {
		select {
		case c.events <- ev:
		default:
			c.dropped.Add(1)
			h.logger.Warn("client not reading, reload %d dropped", ev.ID)
		}
	}
	h.logger.Info("reload %v (%d clients)", files, len(h.clients))
	return ev
}
