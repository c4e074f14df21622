package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"gamesession/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrHubStopped is returned when registering after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Hub relays store subscriptions to websocket clients. Each client follows one
// store path.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	store      store.SessionStore
	log        zerolog.Logger
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	path   string
	sub    store.Subscription

	mu     sync.Mutex
	closed bool
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewHub(st store.SessionStore) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		store:      st,
		log:        log.Logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("client", client.id).Str("path", client.path).Int("total", total).Msg("feed client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("client", client.id).Str("path", client.path).Int("total", total).Msg("feed client unregistered")
		}
	}
}

// drop removes client and stops its subscription. Caller holds h.mutex.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	if client.sub != nil {
		client.sub.Unsubscribe()
	}
	client.close()
}

// RegisterClient subscribes conn to path and starts its pumps.
func (h *Hub) RegisterClient(ctx context.Context, conn *websocket.Conn, path string) (*Client, error) {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
		path:   path,
	}

	sub, err := h.store.Subscribe(ctx, path, client.deliver)
	if err != nil {
		return nil, err
	}
	client.sub = sub

	select {
	case h.register <- client:
	case <-h.done:
		sub.Unsubscribe()
		client.close()
		return nil, ErrHubStopped
	}

	go client.writePump()
	go client.readPump()

	return client, nil
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns how many clients follow path.
func (h *Hub) ClientCount(path string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for client := range h.clients {
		if client.path == path {
			n++
		}
	}
	return n
}

func (c *Client) deliver(s store.Snapshot) {
	msg := Message{Type: store.FrameValue, Payload: store.FeedValue{Path: s.Path, Value: s.Value}}
	if s.Err != nil {
		msg = Message{Type: store.FrameError, Payload: store.FeedValue{Path: s.Path, Error: s.Err.Error()}}
	}
	if s.Value == nil {
		// RawMessage(nil) would marshal as an empty value; absent is null.
		p := msg.Payload.(store.FeedValue)
		p.Value = json.RawMessage("null")
		msg.Payload = p
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error().Err(err).Str("path", c.path).Msg("error marshaling feed message")
		return
	}
	if !c.enqueue(data) {
		c.hub.log.Warn().Str("client", c.id).Msg("feed client send buffer full, closing connection")
		go c.hub.UnregisterClient(c)
	}
}

// enqueue reports false only when the send buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Debug().Err(err).Str("client", c.id).Msg("error unmarshaling message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case store.FramePing:
		data, _ := json.Marshal(Message{Type: store.FramePong, Payload: store.FramePong})
		c.enqueue(data)
	default:
		c.hub.log.Debug().Str("type", msg.Type).Str("client", c.id).Msg("unknown message type")
	}
}
