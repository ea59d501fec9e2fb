package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/open-hours/timebank/internal/auth"
	"github.com/open-hours/timebank/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSHandler struct {
	Hub    *Hub
	Store  store.Store
	Tokens *auth.Verifier
}

type inboundFrame struct {
	Body string `json:"body"`
}

// ServiceRoomWS - streaming connection into a service's chat room. The
// bearer token rides in the "token" query param because browser streaming
// clients cannot always set arbitrary headers.
func (ws *WSHandler) ServiceRoomWS(c echo.Context) error {
	userID, err := ws.Tokens.Verify(c.QueryParam("token"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
	}

	serviceID := c.Param("id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing service id"})
	}
	if _, err := ws.Store.GetService(c.Request().Context(), serviceID); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "service not found"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	r := ws.Hub.getRoom(serviceID)
	cl := r.register(conn)

	// Read loop. Each inbound frame is a post attempt; a rejected frame
	// errors back to this connection only and never aborts the room.
	ctx := c.Request().Context()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			r.unregister(cl)
			_ = conn.Close()
			break
		}

		body := parseFrame(payload)
		if _, err := ws.Hub.Send(ctx, serviceID, userID, body); err != nil {
			_ = cl.writeEvent(Event{Type: "error", Data: sendErrorText(err)})
		}
	}
	return nil
}

func parseFrame(payload []byte) string {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return ""
	}
	return frame.Body
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return "invalid message"
	case errors.Is(err, ErrForbidden):
		return "not allowed to post in this room"
	default:
		return "send failed"
	}
}
