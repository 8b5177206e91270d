package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	ws "github.com/rental-occupancy/backend/internal/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from Home Assistant ingress
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
func WebSocketUpgrade(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := ws.NewClient(hub)
		hub.Register(client)

		replies := make(chan []byte, 16)
		go writePump(conn, client, replies)
		go readPump(conn, client, hub, replies)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// Replies to client commands share the connection, so they go through here
// as well.
func writePump(conn *websocket.Conn, client *ws.Client, replies <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case reply := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection drops.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, replies chan<- []byte) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(65536)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		if reply := handleClientMessage(client, message); reply != nil {
			select {
			case replies <- reply:
			default:
			}
		}
	}
}

// handleClientMessage answers a client command, returning nil when there
// is nothing to send back.
func handleClientMessage(client *ws.Client, message []byte) []byte {
	var msg struct {
		Type    ws.MessageType  `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	var reply ws.Message
	switch err := json.Unmarshal(message, &msg); {
	case err != nil:
		reply = ws.NewMessage(ws.TypeError, ws.ErrorPayload{Code: "bad_request", Message: "invalid JSON"})
	case msg.Type == ws.TypePing:
		reply = ws.NewMessage(ws.TypePong, nil)
	case msg.Type == ws.TypeSubscribe:
		var sub ws.SubscribePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				reply = ws.NewMessage(ws.TypeError, ws.ErrorPayload{
					Code:         "bad_request",
					Message:      "invalid subscribe payload",
					OriginalType: string(msg.Type),
				})
				break
			}
		}
		client.Follow(sub.PropertyIDs)
		reply = ws.NewMessage(ws.TypeSubscribed, ws.SubscribePayload{PropertyIDs: client.Following()})
	default:
		reply = ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unknown_type",
			Message:      "unsupported message type",
			OriginalType: string(msg.Type),
		})
	}
	data, err := reply.JSON()
	if err != nil {
		return nil
	}
	return data
}
