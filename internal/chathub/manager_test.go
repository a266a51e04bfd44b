package chathub_test

import (
	"context"
	"sparkchat/backend/internal/chathub"
	"sparkchat/backend/internal/conversation"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*chathub.ManagerService, context.CancelFunc) {
	t.Helper()
	hub := chathub.NewManagerService()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, cancel
}

func TestManager_RegisterAndUnregister(t *testing.T) {
	hub, _ := runHub(t)
	clientA := newMockClient("user_A", nil)
	clientA2 := newMockClient("user_A", nil)

	require.True(t, hub.Register(clientA))
	require.True(t, hub.Register(clientA2))
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, hub.IsOnline("user_A"))
	assert.False(t, hub.IsOnline("user_B"))

	hub.Unregister(clientA)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, hub.IsOnline("user_A"), "second connection still live")
	assert.Equal(t, 1, clientA.Closed())

	hub.Unregister(clientA)
	hub.Unregister(clientA2)
	require.Eventually(t, func() bool { return !hub.IsOnline("user_A") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, clientA.Closed(), "unknown clients are not closed twice")
}

func TestManager_StopClosesClientsAndUnblocks(t *testing.T) {
	hub, cancel := runHub(t)
	client := newMockClient("user_A", nil)
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return hub.IsOnline("user_A") }, time.Second, 5*time.Millisecond)

	cancel()
	<-hub.Done()
	assert.Equal(t, 1, client.Closed())
	assert.Zero(t, hub.Count())

	assert.False(t, hub.Register(newMockClient("user_B", nil)))
	hub.Unregister(client)
}

func TestManager_FindSessionNeedsOpenThread(t *testing.T) {
	hub, _ := runHub(t)
	engine := conversation.NewEngine(conversation.Deps{})
	idle := engine.NewSession("user_A", nil)
	defer idle.Shutdown()

	require.True(t, hub.Register(newMockClient("user_A", idle)))
	require.True(t, hub.Register(newMockClient("user_A", nil)))
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	_, ok := hub.FindSession("user_A", "user_B")
	assert.False(t, ok)
	_, ok = hub.FindSession("nobody", "user_B")
	assert.False(t, ok)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	args := m.Called(ctx, userID, title, body, data)
	return args.Error(0)
}

func TestOfflineNotifier_SkipsConnectedUsers(t *testing.T) {
	hub, _ := runHub(t)
	next := &mockNotifier{}
	next.On("Notify", mock.Anything, "offline", "new_message", "hi", mock.Anything).Return(nil).Once()
	n := chathub.NewOfflineNotifier(hub, next)

	require.True(t, hub.Register(newMockClient("online", nil)))
	require.Eventually(t, func() bool { return hub.IsOnline("online") }, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Notify(context.Background(), "online", "new_message", "hi", nil))
	require.NoError(t, n.Notify(context.Background(), "offline", "new_message", "hi", nil))
	next.AssertExpectations(t)
	next.AssertNumberOfCalls(t, "Notify", 1)

	assert.NoError(t, chathub.NewOfflineNotifier(hub, nil).Notify(context.Background(), "offline", "t", "b", nil))
}
