package storage

import (
	"context"
	"errors"
	"fmt"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateMessage inserts a new message row. CreatedAt is kept when the caller set it.
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return transportErr("create message", err)
	}
	return nil
}

func (s *Service) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: message %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, transportErr("get message", err)
	}
	return &msg, nil
}

// GetThreadMessages returns the whole thread between a and b, oldest first.
func (s *Service) GetThreadMessages(ctx context.Context, a, b string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, transportErr("load thread", err)
	}
	return msgs, nil
}

// MarkThreadRead flips every unread message from senderID to readerID. Re-running it is a no-op.
func (s *Service) MarkThreadRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND read = ?", readerID, senderID, false).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": at,
		})
	if res.Error != nil {
		return 0, transportErr("mark read", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteMessageForSelf hides a message for the caller only. It refuses tombstones and
// messages the other participant already hid, since deleted_by holds a single user.
func (s *Service) DeleteMessageForSelf(ctx context.Context, id, callerID string, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND (sender_id = ? OR receiver_id = ?)", id, callerID, callerID).
		Where("deleted_for_everyone = ?", false).
		Where("deleted_by IS NULL OR deleted_by = ?", callerID).
		Updates(map[string]interface{}{
			"deleted_at": at,
			"deleted_by": callerID,
		})
	if res.Error != nil {
		return transportErr("delete for self", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s cannot be deleted by %s", models.ErrPermissionDenied, id, callerID)
	}
	return nil
}

// DeleteMessageForEveryone turns the message into a tombstone. The authorship and
// window checks are repeated in the WHERE clause so a stale client cannot race the deadline.
func (s *Service) DeleteMessageForEveryone(ctx context.Context, id, callerID string, at time.Time) error {
	cutoff := at.Add(-config.DeleteForEveryoneWindow)
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ?", id, callerID).
		Where("deleted_for_everyone = ?", false).
		Where("created_at >= ?", cutoff).
		Updates(map[string]interface{}{
			"deleted_for_everyone": true,
			"deleted_at":           at,
			"deleted_by":           callerID,
		})
	if res.Error != nil {
		return transportErr("delete for everyone", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s cannot be deleted for everyone", models.ErrPermissionDenied, id)
	}
	return nil
}

// CountUnread returns sender → number of unread messages addressed to receiverID.
func (s *Service) CountUnread(ctx context.Context, receiverID string) (map[string]int64, error) {
	var rows []struct {
		SenderID string
		Count    int64
	}
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id, count(*) as count").
		Where("receiver_id = ? AND read = ? AND deleted_for_everyone = ?", receiverID, false, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, transportErr("count unread", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.SenderID] = r.Count
	}
	return out, nil
}

// GetThreadReactions returns every reaction on messages of the thread between a and b.
func (s *Service) GetThreadReactions(ctx context.Context, a, b string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	thread := s.DB.Model(&models.Message{}).
		Select("id").
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	err := s.DB.WithContext(ctx).
		Where("message_id IN (?)", thread).
		Order("created_at asc").
		Find(&reactions).Error
	if err != nil {
		return nil, transportErr("load reactions", err)
	}
	return reactions, nil
}

// ToggleReaction removes the (message, user, emoji) row if it exists and inserts it otherwise.
// It returns true when the reaction is now present. A concurrent insert of the same triple
// surfaces as a duplicate key, which is resolved as the second tap of a double toggle.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&models.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			added = false
			return nil
		}

		r := &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(r)
		if ins.Error != nil {
			return ins.Error
		}
		// RowsAffected == 0: a concurrent toggle inserted the triple first; undo it.
		if ins.RowsAffected == 0 {
			added = false
			return tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
				Delete(&models.Reaction{}).Error
		}
		added = true
		return nil
	})
	if err != nil {
		return false, transportErr("toggle reaction", err)
	}
	return added, nil
}
