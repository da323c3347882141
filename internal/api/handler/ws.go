package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatlive/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Tighten in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the connection and binds it to a fresh
// RoomSession for the requested room. The session lives exactly as long
// as the socket.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}
		tokenString = authHeader[7:]
	}

	anonID, err := h.validateAndGetAnonID(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	roomCode := c.Query("room")
	if roomCode == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room code missing"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	bridge := newBridge(conn, h.Log)
	sess := session.New(h.Store, session.Options{
		Callbacks: bridge.sessionCallbacks(),
		Reactions: h.Store,
		Logger:    h.Log,
	})
	bridge.session = sess

	if err := sess.Enter(roomCode, anonID); err != nil {
		h.Log.Warn().Str("room", roomCode).Err(err).Msg("enter failed")
		conn.WriteJSON(gin.H{"type": "error", "error": "failed to enter room"})
		conn.Close()
		return
	}

	bridge.sendSnapshot()
	bridge.Run()
}
