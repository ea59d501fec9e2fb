package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/open-hours/timebank/internal/auth"
	"github.com/open-hours/timebank/internal/models"
	"github.com/open-hours/timebank/internal/ranking"
	"github.com/open-hours/timebank/internal/store"
)

type chatFixture struct {
	store     *store.MemStore
	hub       *Hub
	tokens    *auth.Verifier
	server    *httptest.Server
	serviceID string
	owner     string
	requester string
	stranger  string
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	s := store.NewMemStore()
	ctx := context.Background()

	owner := &models.User{ID: uuid.New().String(), Email: "owner@example.com", CreatedAt: time.Now()}
	requester := &models.User{ID: uuid.New().String(), Email: "requester@example.com", CreatedAt: time.Now()}
	stranger := &models.User{ID: uuid.New().String(), Email: "stranger@example.com", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, owner))
	require.NoError(t, s.CreateUser(ctx, requester))
	require.NoError(t, s.CreateUser(ctx, stranger))

	svc := &models.Service{
		ID:              uuid.New().String(),
		OwnerID:         owner.ID,
		Title:           "language exchange",
		Kind:            models.ServiceOffer,
		DurationHours:   1,
		MaxParticipants: 4,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.CreateService(ctx, svc))

	// The requester holds a pending handshake: enough for post rights.
	require.NoError(t, s.CreateHandshake(ctx, &models.Handshake{
		ID:               uuid.New().String(),
		ServiceID:        svc.ID,
		RequesterID:      requester.ID,
		ProviderID:       owner.ID,
		Status:           models.HandshakePending,
		ProvisionedHours: 1,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}))

	tokens := auth.NewVerifier("test-secret", time.Hour)
	hub := NewHub(s, ranking.New(s), DefaultPostPolicy, 4096)

	e := echo.New()
	ws := &WSHandler{Hub: hub, Store: s, Tokens: tokens}
	e.GET("/ws/services/:id", ws.ServiceRoomWS)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &chatFixture{
		store:     s,
		hub:       hub,
		tokens:    tokens,
		server:    server,
		serviceID: svc.ID,
		owner:     owner.ID,
		requester: requester.ID,
		stranger:  stranger.ID,
	}
}

func (f *chatFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Mint(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/services/" + f.serviceID + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, models.Message) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var evt struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	var msg models.Message
	if evt.Type == "message_new" {
		require.NoError(t, json.Unmarshal(evt.Data, &msg))
	}
	return evt.Type, msg
}

func sendFrame(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"body": body}))
}

func TestRoomBroadcastPreservesSendOrder(t *testing.T) {
	f := newChatFixture(t)

	conn1 := f.dial(t, f.owner)
	conn2 := f.dial(t, f.requester)

	// conn2 posts first: once both connections see it, both read loops
	// are registered and the ordering check below is race-free.
	sendFrame(t, conn2, "ready")
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		typ, msg := readEvent(t, conn)
		require.Equal(t, "message_new", typ)
		require.Equal(t, "ready", msg.Body)
	}

	sendFrame(t, conn1, "hi")
	sendFrame(t, conn1, "there")

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		typ, first := readEvent(t, conn)
		require.Equal(t, "message_new", typ)
		require.Equal(t, "hi", first.Body)
		require.Equal(t, f.owner, first.SenderID)

		_, second := readEvent(t, conn)
		require.Equal(t, "there", second.Body)
	}

	// The log holds all three in append order.
	msgs, err := f.store.ListMessages(context.Background(), f.serviceID, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "ready", msgs[0].Body)
	require.Equal(t, "hi", msgs[1].Body)
	require.Equal(t, "there", msgs[2].Body)
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := newChatFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/services/" + f.serviceID + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectUnknownRoom(t *testing.T) {
	f := newChatFixture(t)
	token, err := f.tokens.Mint(f.owner)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/services/" + uuid.New().String() + "?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStrangerMayReadButNotPost(t *testing.T) {
	f := newChatFixture(t)

	reader := f.dial(t, f.stranger)
	poster := f.dial(t, f.owner)

	// A rejected post errors back to the sender only.
	sendFrame(t, reader, "let me in")
	typ, _ := readEvent(t, reader)
	require.Equal(t, "error", typ)

	// The room is unaffected and the stranger still receives broadcasts.
	sendFrame(t, poster, "welcome")
	typ, msg := readEvent(t, reader)
	require.Equal(t, "message_new", typ)
	require.Equal(t, "welcome", msg.Body)

	msgs, err := f.store.ListMessages(context.Background(), f.serviceID, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 1, "rejected post must not be persisted")
}

func TestInvalidMessageNotPersistedOrBroadcast(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.hub.Send(ctx, f.serviceID, f.owner, "")
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.hub.Send(ctx, f.serviceID, f.owner, strings.Repeat("x", 5000))
	require.ErrorIs(t, err, ErrInvalidMessage)

	msgs, err := f.store.ListMessages(ctx, f.serviceID, time.Time{})
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestRoomsAreIndependent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	other := &models.Service{
		ID:              uuid.New().String(),
		OwnerID:         f.owner,
		Title:           "second room",
		Kind:            models.ServiceNeed,
		DurationHours:   1,
		MaxParticipants: 1,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, f.store.CreateService(ctx, other))

	conn := f.dial(t, f.requester)
	sendFrame(t, conn, "ready")
	_, _ = readEvent(t, conn)

	// Activity in the other room never reaches this room's connections.
	_, err := f.hub.Send(ctx, other.ID, f.owner, "elsewhere")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var evt Event
	require.Error(t, conn.ReadJSON(&evt), "no cross-room delivery expected")
}
