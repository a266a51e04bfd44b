package chathub

import "sparkchat/backend/internal/conversation"

// Client is one live connection of a user. A user may hold several
// (phone and browser), each with its own conversation session.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	// Session returns the conversation state driven by this connection.
	Session() *conversation.Session

	// Run starts the client's read and write pumps.
	Run()
	// Close ends the session and the connection. It is safe to call more than once.
	Close()
}
