package sync

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"arduinohub/pkg/models"
)

// Snapshot returns the current task events of a session so a new subscriber
// does not have to wait for the next change.
type Snapshot func(sessionID string) []models.TaskEvent

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

// originChecker allows any origin when allowed is empty. Requests without an
// Origin header (non-browser clients) are always accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// WSHandler streams task events for the session named by the "session"
// query parameter. Authorization is expected to run before it.
func WSHandler(hub *Hub, allowedOrigins []string, snapshot Snapshot) gin.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.Query("session"))
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session is required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		hub.Join(sessionID, ws)
		log.Printf("[ws] client connected session=%s", sessionID)

		_ = hub.Send(ws, Welcome{
			Type:      "welcome",
			Transport: "websocket",
			SessionID: sessionID,
			Clients:   hub.Stats().WSClients,
		})
		if snapshot != nil {
			hub.Replay(sessionID, ws, snapshot(sessionID))
		}

		// incoming messages are ignored; reading detects the close
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.Leave(sessionID, ws)
		log.Printf("[ws] client disconnected session=%s", sessionID)
	}
}
