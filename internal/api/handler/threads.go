package handler

import (
	"fmt"
	"net/http"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/conversation"
	"sparkchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// Room for the multipart envelope around a file at the size ceiling.
const multipartOverhead = 64 << 10

// GetMessages returns the thread with :peer as the caller sees it.
func (h *Handler) GetMessages(c *gin.Context) {
	msgs, err := h.Engine.History(c.Request.Context(), currentUser(c), c.Param("peer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetUnread returns sender → unread count for the caller.
func (h *Handler) GetUnread(c *gin.Context) {
	counts, err := h.Engine.UnreadCounts(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

// liveSession finds the caller's connected session that has :peer open.
func (h *Handler) liveSession(c *gin.Context) (*conversation.Session, error) {
	s, ok := h.Hub.FindSession(currentUser(c), c.Param("peer"))
	if !ok {
		return nil, fmt.Errorf("%w: no live session with thread %s open", models.ErrNotFound, c.Param("peer"))
	}
	return s, nil
}

// StageAttachment buffers the "file" form field into the live session.
// Oversized bodies are refused from Content-Length before anything is read.
func (h *Handler) StageAttachment(c *gin.Context) {
	if c.Request.ContentLength > config.MaxAttachmentBytes+multipartOverhead {
		respondError(c, attachment.CheckSize(c.Request.ContentLength))
		return
	}
	s, err := h.liveSession(c)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxAttachmentBytes+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, fmt.Errorf("%w: file field: %v", models.ErrValidation, err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, fmt.Errorf("%w: open upload: %v", models.ErrValidation, err))
		return
	}
	defer f.Close()

	pa, err := s.StageAttachment(c.Request.Context(), fh.Filename, f, fh.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"name":    pa.Name,
		"kind":    pa.Kind,
		"mime":    pa.MIME,
		"size":    pa.Size,
		"preview": pa.PreviewRef,
	})
}

// ConfirmAttachment uploads the staged file and sends it.
func (h *Handler) ConfirmAttachment(c *gin.Context) {
	s, err := h.liveSession(c)
	if err != nil {
		respondError(c, err)
		return
	}
	msg, err := s.ConfirmAttachment(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	r, _ := conversation.RenderOne(*msg, currentUser(c))
	c.JSON(http.StatusCreated, r)
}

// CancelAttachment drops the staged file.
func (h *Handler) CancelAttachment(c *gin.Context) {
	s, err := h.liveSession(c)
	if err != nil {
		respondError(c, err)
		return
	}
	s.CancelAttachment()
	c.Status(http.StatusNoContent)
}

// GetPreview serves the local preview of a staged file.
func (h *Handler) GetPreview(c *gin.Context) {
	data, mime, ok := h.Previews.Get(c.Param("ref"))
	if !ok {
		respondError(c, fmt.Errorf("%w: preview %s", models.ErrNotFound, c.Param("ref")))
		return
	}
	c.Data(http.StatusOK, mime, data)
}
