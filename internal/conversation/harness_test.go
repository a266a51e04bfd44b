package conversation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/presence"
	"sparkchat/backend/internal/realtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore keeps rows in memory and publishes every change to the feed the way
// the database triggers do.
type memStore struct {
	mu        sync.Mutex
	messages  []models.Message
	reactions []models.Reaction
	feed      *realtime.Broker
}

func (s *memStore) publishMessage(op realtime.Op, m models.Message) {
	s.feed.Publish(realtime.Event{Table: realtime.TableMessages, Op: op, Message: &m})
}

func (s *memStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.messages = append(s.messages, *msg)
	s.mu.Unlock()
	s.publishMessage(realtime.OpInsert, *msg)
	return nil
}

func (s *memStore) GetMessageByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			out := m
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s", models.ErrNotFound, id)
}

func (s *memStore) GetThreadMessages(_ context.Context, a, b string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.BelongsTo(a, b) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) GetThreadReactions(_ context.Context, a, b string) ([]models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inThread := make(map[string]bool)
	for _, m := range s.messages {
		if m.BelongsTo(a, b) {
			inThread[m.ID] = true
		}
	}
	var out []models.Reaction
	for _, r := range s.reactions {
		if inThread[r.MessageID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) MarkThreadRead(_ context.Context, readerID, senderID string, at time.Time) (int64, error) {
	s.mu.Lock()
	var changed []models.Message
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReceiverID == readerID && m.SenderID == senderID && !m.Read {
			m.MarkRead(at)
			changed = append(changed, *m)
		}
	}
	s.mu.Unlock()
	for _, m := range changed {
		s.publishMessage(realtime.OpUpdate, m)
	}
	return int64(len(changed)), nil
}

func (s *memStore) mutate(id string, f func(m *models.Message) error) error {
	s.mu.Lock()
	var (
		out models.Message
		err = fmt.Errorf("%w: message %s", models.ErrNotFound, id)
	)
	for i := range s.messages {
		if s.messages[i].ID == id {
			err = f(&s.messages[i])
			out = s.messages[i]
			break
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publishMessage(realtime.OpUpdate, out)
	return nil
}

func (s *memStore) DeleteMessageForSelf(_ context.Context, id, callerID string, at time.Time) error {
	return s.mutate(id, func(m *models.Message) error {
		if !m.IsParticipant(callerID) || m.DeletedForEveryone || (m.DeletedBy != nil && *m.DeletedBy != callerID) {
			return models.ErrPermissionDenied
		}
		m.DeletedAt = &at
		m.DeletedBy = &callerID
		return nil
	})
}

func (s *memStore) DeleteMessageForEveryone(_ context.Context, id, callerID string, at time.Time) error {
	return s.mutate(id, func(m *models.Message) error {
		if err := m.CanDeleteForEveryone(callerID, at); err != nil {
			return err
		}
		m.DeletedForEveryone = true
		m.DeletedAt = &at
		m.DeletedBy = &callerID
		return nil
	})
}

func (s *memStore) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	added := true
	for i, r := range s.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
			added = false
			break
		}
	}
	if added {
		s.reactions = append(s.reactions, models.Reaction{ID: uuid.NewString(), MessageID: messageID, UserID: userID, Emoji: emoji})
	}
	s.mu.Unlock()
	op := realtime.OpInsert
	if !added {
		op = realtime.OpDelete
	}
	s.feed.Publish(realtime.Event{Table: realtime.TableReactions, Op: op, MessageID: messageID})
	return added, nil
}

func (s *memStore) CountUnread(_ context.Context, receiverID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && !m.Read && !m.DeletedForEveryone {
			out[m.SenderID]++
		}
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// memPresence fans typing signals out to every subscriber of the thread.
type memPresence struct {
	mu   sync.Mutex
	subs map[string][]*memTypingSub
}

type memTypingSub struct {
	p        *memPresence
	threadID string
	ch       chan models.TypingSignal
	once     sync.Once
}

func (p *memPresence) PublishTyping(_ context.Context, sig models.TypingSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs[sig.ThreadID] {
		select {
		case s.ch <- sig:
		default:
		}
	}
	return nil
}

func (p *memPresence) SubscribeTyping(_ context.Context, threadID string) (presence.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = make(map[string][]*memTypingSub)
	}
	s := &memTypingSub{p: p, threadID: threadID, ch: make(chan models.TypingSignal, 16)}
	p.subs[threadID] = append(p.subs[threadID], s)
	return s, nil
}

func (s *memTypingSub) Signals() <-chan models.TypingSignal { return s.ch }

func (s *memTypingSub) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		subs := s.p.subs[s.threadID]
		for i, other := range subs {
			if other == s {
				s.p.subs[s.threadID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.p.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// memObjects is an object store reporting byte progress.
type memObjects struct {
	mu   sync.Mutex
	objs map[string][]byte
	// stored runs after the object is written and before Put returns.
	stored func(ctx context.Context)
}

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64, _ string, progress attachment.ProgressFunc) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(size/2, size)
		progress(size, size)
	}
	m.mu.Lock()
	if m.objs == nil {
		m.objs = make(map[string][]byte)
	}
	m.objs[key] = data
	stored := m.stored
	m.mu.Unlock()

	if stored != nil {
		stored(ctx)
	}
	return "https://cdn.test/" + key, nil
}

func (m *memObjects) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objs)
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func (m *memObjects) ReportsProgress() bool { return true }

type mockAuth struct{ mock.Mock }

func (m *mockAuth) IsMutuallyMatched(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

type mockQuota struct{ mock.Mock }

func (m *mockQuota) CheckMessageQuota(ctx context.Context, userID, threadID string) (bool, error) {
	args := m.Called(ctx, userID, threadID)
	return args.Bool(0), args.Error(1)
}

func (m *mockQuota) CheckMediaQuota(ctx context.Context, userID string, kind models.ContentKind, peerID string) (bool, error) {
	args := m.Called(ctx, userID, kind, peerID)
	return args.Bool(0), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) error {
	args := m.Called(ctx, userID, title, body, data)
	return args.Error(0)
}

type mockCalls struct{ mock.Mock }

func (m *mockCalls) StartCall(ctx context.Context, callerID, peerID string, callType models.CallType) error {
	args := m.Called(ctx, callerID, peerID, callType)
	return args.Error(0)
}

type harness struct {
	clk      *clock.Manual
	store    *memStore
	feed     *realtime.Broker
	presence *memPresence
	objects  *memObjects
	previews *attachment.MemoryPreviews
	auth     *mockAuth
	quota    *mockQuota
	notifier *mockNotifier
	calls    *mockCalls
	engine   *Engine
}

// newHarness matches alice with bob and carol, and gives everyone unlimited quota.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewManual(t0),
		feed:     realtime.NewBroker(),
		presence: &memPresence{},
		objects:  &memObjects{},
		previews: attachment.NewMemoryPreviews(),
		auth:     &mockAuth{},
		quota:    &mockQuota{},
		notifier: &mockNotifier{},
		calls:    &mockCalls{},
	}
	h.store = &memStore{feed: h.feed}

	h.auth.On("IsMutuallyMatched", mock.Anything, "alice", "bob").Return(true, nil).Maybe()
	h.auth.On("IsMutuallyMatched", mock.Anything, "bob", "alice").Return(true, nil).Maybe()
	h.auth.On("IsMutuallyMatched", mock.Anything, "alice", "carol").Return(true, nil).Maybe()
	h.auth.On("IsMutuallyMatched", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Maybe()
	h.quota.On("CheckMessageQuota", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	h.quota.On("CheckMediaQuota", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	h.engine = NewEngine(Deps{
		Store:    h.store,
		Auth:     h.auth,
		Quota:    h.quota,
		Notifier: h.notifier,
		Calls:    h.calls,
		Feed:     h.feed,
		Presence: h.presence,
		Pipeline: attachment.NewPipeline(h.objects, h.previews, h.clk),
		Clock:    h.clk,
	})
	t.Cleanup(h.feed.Close)
	return h
}

// open creates a session for user with peer open and drains its snapshot.
func (h *harness) open(t *testing.T, user, peer string) *Session {
	t.Helper()
	s := h.engine.NewSession(user, nil)
	t.Cleanup(s.Shutdown)
	require.NoError(t, s.Open(context.Background(), peer))
	next(t, s, func(u Update) bool { return u.Type == UpdateSnapshot })
	return s
}

// next returns the first update matching pred, failing after a second.
func next(t *testing.T, s *Session, pred func(Update) bool) Update {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case u := <-s.Updates():
			if pred(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
			return Update{}
		}
	}
}

func ofType(typ UpdateType) func(Update) bool {
	return func(u Update) bool { return u.Type == typ }
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		img.Set(x, x%30, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
