// Package chat manages authenticated per-service rooms: one append-only
// message log and one long-lived connection set per room. Each room has a
// single ordering authority, so every reader observes that room's messages
// in the same relative order; rooms are serviced fully in parallel.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/store"
)

var (
	// ErrInvalidMessage rejects empty or oversized bodies; nothing is
	// persisted or broadcast.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrForbidden rejects a post from an identity the room policy
	// excludes.
	ErrForbidden = errors.New("not allowed to post in this room")
)

// Event is the wire envelope pushed to room connections.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PostPolicy decides whether a user may post in a service's room. Reading
// only requires authentication.
type PostPolicy func(ctx context.Context, s store.Store, serviceID, userID string) (bool, error)

// DefaultPostPolicy allows the service owner and any counterpart with a
// non-denied handshake on the service.
func DefaultPostPolicy(ctx context.Context, s store.Store, serviceID, userID string) (bool, error) {
	svc, err := s.GetService(ctx, serviceID)
	if err != nil {
		return false, err
	}
	if svc.OwnerID == userID {
		return true, nil
	}
	handshakes, err := s.ListHandshakesByService(ctx, serviceID)
	if err != nil {
		return false, err
	}
	for _, h := range handshakes {
		if h.RequesterID == userID && h.Status != models.HandshakeDenied {
			return true, nil
		}
	}
	return false, nil
}

// client wraps a connection with a write lock: broadcasts and direct error
// replies may target the same connection from different goroutines.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeEvent(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type room struct {
	serviceID string

	// order serializes append+broadcast: the single ordering authority
	// for this room.
	order sync.Mutex

	mu      sync.RWMutex
	clients map[*client]bool
}

func (r *room) register(conn *websocket.Conn) *client {
	cl := &client{conn: conn}
	r.mu.Lock()
	r.clients[cl] = true
	r.mu.Unlock()
	return cl
}

func (r *room) unregister(cl *client) {
	r.mu.Lock()
	delete(r.clients, cl)
	r.mu.Unlock()
}

// broadcast pushes evt to every registered connection. A failed write drops
// that connection silently; delivery to the others continues.
func (r *room) broadcast(evt Event) {
	r.mu.RLock()
	clients := make([]*client, 0, len(r.clients))
	for cl := range r.clients {
		clients = append(clients, cl)
	}
	r.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.writeEvent(evt); err != nil {
			r.unregister(cl)
			_ = cl.conn.Close()
		}
	}
}

// Hub holds the room registry and the message send path.
type Hub struct {
	store    store.Store
	ranker   *ranking.Ranker
	canPost  PostPolicy
	maxBytes int

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(s store.Store, r *ranking.Ranker, policy PostPolicy, maxMessageBytes int) *Hub {
	if policy == nil {
		policy = DefaultPostPolicy
	}
	return &Hub{
		store:    s,
		ranker:   r,
		canPost:  policy,
		maxBytes: maxMessageBytes,
		rooms:    make(map[string]*room),
	}
}

func (h *Hub) getRoom(serviceID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[serviceID]
	if !ok {
		r = &room{serviceID: serviceID, clients: make(map[*client]bool)}
		h.rooms[serviceID] = r
	}
	return r
}

// Send validates, persists and broadcasts one message under the room's
// ordering lock. The append and the broadcast happen in send order for
// every reader.
func (h *Hub) Send(ctx context.Context, serviceID, senderID, body string) (*models.Message, error) {
	if body == "" || len(body) > h.maxBytes {
		return nil, ErrInvalidMessage
	}
	allowed, err := h.canPost(ctx, h.store, serviceID, senderID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}

	r := h.getRoom(serviceID)
	r.order.Lock()
	defer r.order.Unlock()

	msg := &models.Message{
		ID:        uuid.New().String(),
		ServiceID: serviceID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	r.broadcast(Event{Type: "message_new", Data: msg})

	// A new comment is a ranking trigger.
	h.ranker.Signal(serviceID)
	return msg, nil
}
