package controller

import (
	"sync"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/websocket/v2"
)

// wsConn is the slice of *websocket.Conn the hub needs. Narrowed to an
// interface so tests can register a fake connection.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// hubClient pairs a registered connection with its write lock. The
// underlying websocket permits only one concurrent writer, so every write
// after registration (hub pushes and read-loop replies alike) goes through
// writeJSON.
type hubClient struct {
	wmu  sync.Mutex
	conn wsConn
}

func (c *hubClient) writeJSON(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks the single live mobile connection per user. There is no
// queuing or store-and-forward: Send reports whether a live channel existed
// at dispatch time, nothing more.
type Hub struct {
	mu    sync.RWMutex
	conns map[uint]*hubClient
}

func NewHub() *Hub {
	return &Hub{conns: make(map[uint]*hubClient)}
}

// Register stores the connection for a user, replacing (and closing) any
// previous one. A reconnecting app supersedes its stale socket. The
// returned client carries the write lock the caller must use for its own
// writes on the connection.
func (h *Hub) Register(userID uint, c wsConn) *hubClient {
	client := &hubClient{conn: c}
	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = client
	h.mu.Unlock()

	if old != nil && old.conn != c {
		old.conn.Close()
	}
	return client
}

// Unregister removes the connection only if it is still the registered one,
// so a reconnect racing a disconnect does not drop the fresh socket.
func (h *Hub) Unregister(userID uint, c wsConn) {
	h.mu.Lock()
	if cur := h.conns[userID]; cur != nil && cur.conn == c {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
}

// Connected reports whether the user has a live mobile session.
func (h *Hub) Connected(userID uint) bool {
	h.mu.RLock()
	_, ok := h.conns[userID]
	h.mu.RUnlock()
	return ok
}

// Send dispatches a payload to the user's live connection if one exists.
// The returned boolean is a connected-client check, not a delivery
// guarantee.
func (h *Hub) Send(userID uint, payload interface{}) bool {
	h.mu.RLock()
	client := h.conns[userID]
	h.mu.RUnlock()

	if client == nil {
		return false
	}
	if err := client.writeJSON(payload); err != nil {
		h.Unregister(userID, client.conn)
		return false
	}
	return true
}

// HandleMobileWS is the websocket endpoint the mobile app keeps open. The
// app authenticates with its JWT as a query parameter (websocket clients
// cannot set headers reliably), then receives call_request pushes and may
// answer them over the same socket.
func (cc *CallController) HandleMobileWS(conn *websocket.Conn) {
	defer conn.Close()

	token := conn.Query("token")
	claims, err := utils.ParseJWTToken(token)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"type": "error", "error": "invalid token"})
		return
	}

	var user models.User
	if err := config.DB.First(&user, claims.UserID).Error; err != nil || !user.IsActive {
		conn.WriteJSON(map[string]interface{}{"type": "error", "error": "account not available"})
		return
	}

	client := cc.Hub.Register(user.ID, conn)
	defer cc.Hub.Unregister(user.ID, conn)
	cc.Logger.Printf("Mobile session connected for user %d", user.ID)

	for {
		var msg struct {
			Type      string `json:"type"`
			RequestID uint   `json:"request_id"`
			Action    string `json:"action"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "call_response":
			req, err := cc.respond(user.ID, msg.RequestID, msg.Action)
			if err != nil {
				client.writeJSON(map[string]interface{}{
					"type":       "call_response_ack",
					"request_id": msg.RequestID,
					"error":      err.Error(),
				})
				continue
			}
			client.writeJSON(map[string]interface{}{
				"type":       "call_response_ack",
				"request_id": req.ID,
				"status":     req.Status,
			})
		case "ping":
			client.writeJSON(map[string]interface{}{"type": "pong"})
		}
	}

	cc.Logger.Printf("Mobile session closed for user %d", user.ID)
}
