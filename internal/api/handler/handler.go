package handler

import (
	"errors"
	"net/http"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/chathub"
	"sparkchat/backend/internal/conversation"
	"sparkchat/backend/internal/metrics"
	"sparkchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler holds what the HTTP routes need.
type Handler struct {
	Hub      *chathub.ManagerService
	Engine   *conversation.Engine
	Previews attachment.Previews
	Secret   []byte
	// Origins are the browser origins allowed to open a websocket.
	Origins []string
}

func NewHandler(hub *chathub.ManagerService, engine *conversation.Engine, previews attachment.Previews, secret []byte, origins []string) *Handler {
	return &Handler{Hub: hub, Engine: engine, Previews: previews, Secret: secret, Origins: origins}
}

// Register mounts every route on r. uploadDir is served at /uploads when set.
func (h *Handler) Register(r *gin.Engine, uploadDir string) {
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if uploadDir != "" {
		r.Static("/uploads", uploadDir)
	}

	api := r.Group("/", h.AuthMiddleware())
	api.GET("/ws", h.ServeWebSocket)
	api.GET("/unread", h.GetUnread)
	api.GET("/previews/:ref", h.GetPreview)

	threads := api.Group("/threads/:peer")
	threads.GET("/messages", h.GetMessages)
	threads.POST("/attachments", h.StageAttachment)
	threads.POST("/attachments/confirm", h.ConfirmAttachment)
	threads.DELETE("/attachments", h.CancelAttachment)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrDeviceUnavailable):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": models.ErrorCode(err)})
}
