package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/subscription"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

// Server exposes the websocket endpoint and operational stats.
type Server struct {
	hub        *Hub
	subs       *subscription.Manager
	sessions   TokenResolver
	sendBuffer int
	log        logger.Logger
	upgrader   websocket.Upgrader
}

func NewServer(hub *Hub, subs *subscription.Manager, sessions TokenResolver, sendBuffer int, log logger.Logger) *Server {
	return &Server{
		hub:        hub,
		subs:       subs,
		sessions:   sessions,
		sendBuffer: sendBuffer,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth makes origin checks redundant here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Register(router *gin.Engine) {
	router.GET("/ws", s.handleWS)
	router.GET("/stats", s.handleStats)
}

func (s *Server) handleWS(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	ownerID, err := s.sessions.Resolve(c.Request.Context(), token)
	if err != nil {
		if errors.IsNotFound(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		s.log.Errorw("Session resolution failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("Websocket upgrade failed", "owner_id", ownerID, "error", err)
		return
	}

	client := NewClient(s.hub, conn, ownerID, s.sendBuffer, s.log)
	if err := s.hub.Connect(c.Request.Context(), client); err != nil {
		s.log.Errorw("Failed to attach connection", "owner_id", ownerID, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription unavailable"))
		conn.Close()
		return
	}

	go client.Run()
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.subs.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connected":         stats.Connected,
		"activeOwners":      stats.ActiveOwners,
		"owners":            stats.Owners,
		"activeConnections": s.hub.TotalConnections(),
	})
}

// bearerToken extracts the session token from the query string or the
// Authorization header.
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
