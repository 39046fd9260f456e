package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const userIDContextKey = "wormhole_user_id"

var (
	errMissingResolver      = errors.New("identity resolver dependency required")
	errMissingSpacesService = errors.New("spaces service dependency required")
	errMissingChatService   = errors.New("chat service dependency required")
	errMissingNotifyService = errors.New("notify service dependency required")
	errMissingHub           = errors.New("realtime hub dependency required")
)

// Dependencies wires the HTTP surface to the services.
type Dependencies struct {
	Resolver       *auth.Resolver
	Spaces         *spaces.Service
	Chat           *chat.Service
	Notify         *notify.Service
	Hub            *realtime.Hub
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	UserHeaders    []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving REST, socket and ops routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Spaces == nil {
		return nil, errMissingSpacesService
	}
	if deps.Chat == nil {
		return nil, errMissingChatService
	}
	if deps.Notify == nil {
		return nil, errMissingNotifyService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins, deps.UserHeaders))

	handler := &httpHandler{
		resolver: deps.Resolver,
		spaces:   deps.Spaces,
		chat:     deps.Chat,
		notify:   deps.Notify,
		hub:      deps.Hub,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(deps.AllowedOrigins),
		},
		writeTimeout: defaultSocketWriteTimeout,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/ws/chat/:space_id", handler.handleChatSocket)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.POST("/chat/send", handler.handleChatSend)
	api.GET("/chat/history", handler.handleChatHistory)
	api.DELETE("/chat/messages/:id", handler.handleChatDelete)
	api.POST("/notify/channels/:id/test", handler.handleNotifyTest)

	return router, nil
}

func corsMiddleware(allowedOrigins, userHeaders []string) gin.HandlerFunc {
	origins := normalizeOrigins(allowedOrigins)
	headers := []string{"Authorization", "Content-Type", "X-Auth-Token"}
	headers = append(headers, userHeaders...)
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: headers,
		MaxAge:       12 * time.Hour,
	})
}

func normalizeOrigins(allowedOrigins []string) []string {
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = append(origins, "*")
	}
	return origins
}

// originChecker applies the CORS allow-list to socket upgrades. Requests
// without an Origin header come from non-browser clients and are accepted.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	origins := normalizeOrigins(allowedOrigins)
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

type httpHandler struct {
	resolver     *auth.Resolver
	spaces       *spaces.Service
	chat         *chat.Service
	notify       *notify.Service
	hub          *realtime.Hub
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.resolver.Verify(c.Request)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrIdentityMismatch) {
			status = http.StatusForbidden
		}
		h.logger.Debug("request identity rejected", zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

type sendRequestPayload struct {
	SpaceID uint `json:"space_id"`
	chat.Frame
}

func (h *httpHandler) handleChatSend(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request sendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.SpaceID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := h.spaces.Authorize(c.Request.Context(), request.SpaceID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	payload, err := h.chat.Ingest(c.Request.Context(), chat.Origin{
		SpaceID:   request.SpaceID,
		UserID:    userID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, request.Frame.Input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": payload})
}

func (h *httpHandler) handleChatHistory(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	spaceID, ok := parseID(c.Query("space_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_space_id"})
		return
	}
	var beforeID uint
	if raw := c.Query("before_id"); raw != "" {
		parsed, ok := parseID(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_before_id"})
			return
		}
		beforeID = parsed
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	if _, err := h.spaces.Authorize(c.Request.Context(), spaceID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	page, err := h.chat.History(c.Request.Context(), spaceID, beforeID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleChatDelete(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	messageID, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message_id"})
		return
	}
	err := h.chat.Delete(c.Request.Context(), messageID, userID, chat.Origin{
		UserID:    userID,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleNotifyTest(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	channelID, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_channel_id"})
		return
	}
	if err := h.notify.TestChannel(c.Request.Context(), channelID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, spaces.ErrSpaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "space_not_found"})
	case errors.Is(err, spaces.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
	case errors.Is(err, spaces.ErrMissingIdentity):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, chat.ErrMessageRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_rejected"})
	case errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message_not_found"})
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, notify.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, notify.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel_not_found"})
	case errors.Is(err, notify.ErrDeliveryFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "delivery_failed"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parseID(raw string) (uint, bool) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}
