package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campuswell/internal/access"
	"campuswell/internal/auth"
	"campuswell/internal/chat"
	"campuswell/internal/config"
	"campuswell/internal/models"
	"campuswell/internal/service/peer"
)

// Handler wires HTTP routes and the websocket endpoint to the peer room services.
type Handler struct {
	peer     *peer.Service
	auth     *auth.Service
	sessions *chat.Manager
	realtime config.RealtimeConfig
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler instance.
func NewHandler(peerService *peer.Service, authService *auth.Service, sessions *chat.Manager, cfg *config.Config) *Handler {
	return &Handler{
		peer:     peerService,
		auth:     authService,
		sessions: sessions,
		realtime: cfg.Realtime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.BasicConfig.AllowedOrigins),
		},
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.serveWS)

	api := router.Group("/api")
	api.GET("/health", h.health)
	api.GET("/rooms", h.listRooms)

	authMW := h.auth.Middleware()
	rooms := api.Group("/rooms/:slug")
	rooms.Use(authMW)
	rooms.GET("", h.getRoom)
	rooms.GET("/messages", h.getRoomMessages)

	mod := api.Group("/mod")
	mod.Use(authMW, auth.RequireRole(models.RoleModerator, models.RoleAdmin))
	mod.GET("/flagged", h.listFlagged)
	mod.GET("/audit", h.listAudit)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.sessions.SessionCount(),
	})
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms, err := h.peer.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// resolveRoom loads the :slug room and writes the error response itself.
func (h *Handler) resolveRoom(c *gin.Context) (*models.Room, bool) {
	room, err := h.peer.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		}
		return nil, false
	}
	return room, true
}

func (h *Handler) getRoom(c *gin.Context) {
	room, ok := h.resolveRoom(c)
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(c)
	decision := access.CanAccess(identity.AgeBracket, identity.ConsentMinorOK, room.IsMinorSafe)
	c.JSON(http.StatusOK, gin.H{
		"room":   room,
		"access": decision,
	})
}

func (h *Handler) getRoomMessages(c *gin.Context) {
	room, ok := h.resolveRoom(c)
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(c)
	if d := access.CanAccess(identity.AgeBracket, identity.ConsentMinorOK, room.IsMinorSafe); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	messages, err := h.peer.ListMessages(c.Request.Context(), room.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":     room,
		"messages": messages,
	})
}

func (h *Handler) listFlagged(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	flagged, err := h.peer.ListFlagged(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load flagged messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": flagged})
}

func (h *Handler) listAudit(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	entries, err := h.peer.ListAudit(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return peer.DefaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return limit, true
}
