package storage

import (
	"fmt"
	"sparkchat/backend/internal/models"

	"gorm.io/gorm"
)

// Notification channels fed by the row triggers below and consumed by realtime.PGFeed.
const (
	MessageChannel  = "message_changes"
	ReactionChannel = "reaction_changes"
)

// Row triggers publish every change with pg_notify. Message payloads carry the whole row;
// reaction payloads only carry the message id because subscribers reload reactions wholesale.
var triggerDDL = []string{
	`CREATE OR REPLACE FUNCTION notify_message_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + MessageChannel + `', json_build_object('op', TG_OP, 'row', row_to_json(NEW))::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
	FOR EACH ROW EXECUTE FUNCTION notify_message_change()`,
	`CREATE OR REPLACE FUNCTION notify_reaction_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + ReactionChannel + `', json_build_object('op', TG_OP, 'message_id', COALESCE(NEW.message_id, OLD.message_id))::text);
	RETURN COALESCE(NEW, OLD);
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS reactions_notify ON reactions`,
	`CREATE TRIGGER reactions_notify AFTER INSERT OR DELETE ON reactions
	FOR EACH ROW EXECUTE FUNCTION notify_reaction_change()`,
}

// Migrate creates the tables and installs the change-notification triggers.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Like{},
		&models.Message{},
		&models.Reaction{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	for _, stmt := range triggerDDL {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install triggers: %w", err)
		}
	}
	return nil
}
