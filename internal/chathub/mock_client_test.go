package chathub_test

import (
	"sparkchat/backend/internal/conversation"
	"sync"
)

type MockClient struct {
	userID  string
	session *conversation.Session

	mu     sync.Mutex
	closed int
}

func newMockClient(userID string, session *conversation.Session) *MockClient {
	return &MockClient{userID: userID, session: session}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) Session() *conversation.Session {
	return c.session
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *MockClient) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
