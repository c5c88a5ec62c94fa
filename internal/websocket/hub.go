package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/littlehero/api/internal/model"
	"github.com/rs/zerolog"
)

// Client is one websocket subscriber to a book's status.
type Client struct {
	BookID string
	Conn   *websocket.Conn
	Send   chan []byte

	// gone is closed when the hub drops the client. Send is never closed.
	gone chan struct{}
}

func newClient(bookID string, conn *websocket.Conn) *Client {
	return &Client{
		BookID: bookID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		gone:   make(chan struct{}),
	}
}

// push queues data without blocking; it reports false when the client is
// gone or its buffer is full.
func (c *Client) push(data []byte) bool {
	select {
	case <-c.gone:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by book ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu  sync.RWMutex
	log zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BookID  string
	Message []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BookID] == nil {
				h.clients[client.BookID] = make(map[*Client]bool)
			}
			h.clients[client.BookID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("book_id", client.BookID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug().Str("book_id", client.BookID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.BookID] {
				if !client.push(msg.Message) {
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.BookID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.gone)
		if len(clients) == 0 {
			delete(h.clients, client.BookID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Subscribers reports how many clients follow a book.
func (h *Hub) Subscribers(bookID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[bookID])
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.gone)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastStatus sends a status event to every subscriber of the book.
func (h *Hub) BroadcastStatus(event model.StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal status event")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{BookID: event.BookID, Message: data}:
	case <-h.done:
	}
}

// HandleConnection serves one websocket until the peer goes away. initial,
// when set, is written before any broadcast.
func (h *Hub) HandleConnection(c *websocket.Conn, bookID string, initial *model.StatusEvent) {
	client := newClient(bookID, c)

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.push(data)
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.gone:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("book_id", bookID).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.push(data)
		}
	}
}
