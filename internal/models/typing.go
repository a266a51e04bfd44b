package models

import "time"

// TypingSignal is an ephemeral presence event. It is never persisted.
type TypingSignal struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	EmittedAt time.Time `json:"emitted_at"`
}

// CallType selects the media of a call started from a thread.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallInvite is what the call signaling collaborator receives.
type CallInvite struct {
	CallerID  string    `json:"caller_id"`
	PeerID    string    `json:"peer_id"`
	Type      CallType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}
