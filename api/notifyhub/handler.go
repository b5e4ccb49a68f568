package notifyhub

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/moyoez/localvault/tool"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxInbound   = 512
)

// the route sits behind OnlyAllowLocal, so any origin is accepted
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleNotifyWS upgrades to a WebSocket that only receives hub notifications.
// Idle connections are kept alive with pings and dropped when pongs stop.
// GET /api/self/v1/notify-ws
func HandleNotifyWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			tool.DefaultLogger.Debugf("[NotifyWS] Upgrade failed: %v", err)
			return
		}
		cl := hub.register(conn)
		defer func() {
			hub.Unregister(conn)
			_ = conn.Close()
		}()

		conn.SetReadLimit(maxInbound)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := cl.write(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		// inbound messages are ignored; reading surfaces the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				tool.DefaultLogger.Debugf("[NotifyWS] Client %s left: %v", c.ClientIP(), err)
				return
			}
		}
	}
}
