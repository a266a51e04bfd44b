package conversation

import (
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/reaction"
	"time"
)

// RenderedMessage is a message as one particular viewer sees it.
type RenderedMessage struct {
	ID         string             `json:"id"`
	SenderID   string             `json:"sender_id"`
	ReceiverID string             `json:"receiver_id"`
	Kind       models.ContentKind `json:"kind"`
	Text       string             `json:"text,omitempty"`
	URL        string             `json:"url,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Read       bool               `json:"read"`
	ReadAt     *time.Time         `json:"read_at,omitempty"`
	Outgoing   bool               `json:"outgoing"`
}

// RenderOne projects a message for viewer. ok is false when the viewer deleted
// the message for themselves.
func RenderOne(m models.Message, viewerID string) (RenderedMessage, bool) {
	r := RenderedMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		CreatedAt:  m.CreatedAt,
		Read:       m.Read,
		ReadAt:     m.ReadAt,
		Outgoing:   m.SenderID == viewerID,
	}
	switch {
	case m.IsTombstone():
		r.Kind = models.KindTombstone
		r.Text = config.TombstoneText
	case m.HiddenFor(viewerID):
		return RenderedMessage{}, false
	default:
		kind, payload := models.ParseContent(m.Content)
		r.Kind = kind
		if kind.IsAttachment() {
			r.URL = payload
		} else {
			r.Text = payload
		}
	}
	return r, true
}

// Render projects an ordered message list for viewer.
func Render(msgs []models.Message, viewerID string) []RenderedMessage {
	out := make([]RenderedMessage, 0, len(msgs))
	for _, m := range msgs {
		if r, ok := RenderOne(m, viewerID); ok {
			out = append(out, r)
		}
	}
	return out
}

// reactable reports whether reactions on m are shown to (and accepted from) viewer.
func reactable(m models.Message, viewerID string) bool {
	return !m.IsTombstone() && !m.HiddenFor(viewerID)
}

// RenderReactions groups reaction rows per message, leaving out tombstones and
// messages hidden from viewer.
func RenderReactions(msgs []models.Message, rows []models.Reaction, viewerID string) map[string][]models.ReactionGroup {
	tally := reaction.Aggregate(rows)
	out := make(map[string][]models.ReactionGroup)
	for _, m := range msgs {
		if !reactable(m, viewerID) {
			continue
		}
		if groups := tally.Groups(m.ID); len(groups) > 0 {
			out[m.ID] = groups
		}
	}
	return out
}

// UpdateType names a server-to-client frame.
type UpdateType string

const (
	UpdateSnapshot       UpdateType = "snapshot"
	UpdateMessage        UpdateType = "message"
	UpdateMessageUpdated UpdateType = "message_updated"
	UpdateReactions      UpdateType = "reactions"
	UpdateTyping         UpdateType = "typing"
	UpdateUploadProgress UpdateType = "upload_progress"
	UpdateScrollLatest   UpdateType = "scroll_latest"
)

// Update is one change of the open thread's view.
type Update struct {
	Type      UpdateType                        `json:"type"`
	PeerID    string                            `json:"peer_id"`
	Messages  []RenderedMessage                 `json:"messages,omitempty"`
	Message   *RenderedMessage                  `json:"message,omitempty"`
	RemovedID string                            `json:"removed_id,omitempty"`
	Reactions map[string][]models.ReactionGroup `json:"reactions,omitempty"`
	Typing    *bool                             `json:"typing,omitempty"`
	Progress  *int                              `json:"progress,omitempty"`
}
