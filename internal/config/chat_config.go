package config

import "time"

const (
	// Deletion
	DeleteForEveryoneWindow = 15 * time.Minute
	TombstoneText           = "This message was deleted"

	// Typing presence
	TypingIdleTimeout = 1500 * time.Millisecond // sender emits is_typing=false after this much quiet
	TypingExpiry      = 3 * time.Second         // receiver clears the indicator if nothing follows

	// Attachments
	MaxAttachmentBytes     = 10 << 20
	MaxImageDimension      = 1920
	ImageJPEGQuality       = 82
	SyntheticProgressTick  = 200 * time.Millisecond
	SyntheticProgressStep  = 7
	SyntheticProgressLimit = 90

	// Quotas (per UTC day)
	FreeDailyMessages = 100
	FreeDailyMedia    = 10
	QuotaWindow       = 24 * time.Hour

	// Notifications
	NotifyTimeout = 5 * time.Second
)

// AllowedEmojis is the fixed reaction palette, in display order.
var AllowedEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "🔥"}

// IsAllowedEmoji reports whether emoji belongs to the palette.
func IsAllowedEmoji(emoji string) bool {
	for _, e := range AllowedEmojis {
		if e == emoji {
			return true
		}
	}
	return false
}
