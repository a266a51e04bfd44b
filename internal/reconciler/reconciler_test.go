package reconciler

import (
	"context"
	"errors"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/realtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	mu        sync.Mutex
	messages  []models.Message
	reactions []models.Reaction
	err       error
	calls     int
}

func (f *fakeLoader) GetThreadMessages(_ context.Context, _, _ string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Message(nil), f.messages...), nil
}

func (f *fakeLoader) GetThreadReactions(_ context.Context, _, _ string) ([]models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Reaction(nil), f.reactions...), nil
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, from, to string, offset time.Duration) models.Message {
	return models.Message{ID: id, SenderID: from, ReceiverID: to, Content: id, CreatedAt: base.Add(offset)}
}

func insert(m models.Message) realtime.Event {
	return realtime.Event{Table: realtime.TableMessages, Op: realtime.OpInsert, Message: &m}
}

func update(m models.Message) realtime.Event {
	return realtime.Event{Table: realtime.TableMessages, Op: realtime.OpUpdate, Message: &m}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestApply_InsertIsIdempotent(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()
	m := msg("m1", "bob", "alice", 0)

	assert.Equal(t, Appended, r.Apply(ctx, insert(m)))
	assert.Equal(t, Duplicate, r.Apply(ctx, insert(m)))
	assert.Len(t, r.Messages(), 1)
}

func TestApply_OptimisticEchoCommutes(t *testing.T) {
	m := msg("m1", "alice", "bob", 0)
	ctx := context.Background()

	echoFirst := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	assert.Equal(t, Appended, echoFirst.InsertLocal(m))
	assert.Equal(t, Duplicate, echoFirst.Apply(ctx, insert(m)))

	feedFirst := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	assert.Equal(t, Appended, feedFirst.Apply(ctx, insert(m)))
	assert.Equal(t, Duplicate, feedFirst.InsertLocal(m))

	assert.Equal(t, echoFirst.Messages(), feedFirst.Messages())
}

func TestApply_KeepsCreatedAtOrder(t *testing.T) {
	var scrolls []bool
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", func(c Change) {
		if c.Outcome == Appended {
			scrolls = append(scrolls, c.ScrollToLatest)
		}
	})
	ctx := context.Background()

	r.Apply(ctx, insert(msg("m3", "bob", "alice", 3*time.Second)))
	r.Apply(ctx, insert(msg("m1", "alice", "bob", time.Second)))
	r.Apply(ctx, insert(msg("m4", "alice", "bob", 4*time.Second)))
	r.Apply(ctx, insert(msg("m2", "bob", "alice", 2*time.Second)))

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(r.Messages()))
	assert.Equal(t, []bool{true, false, true, false}, scrolls)
}

func TestApply_UpdateReplacesInPlaceAndNeverAppends(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()
	r.Reset([]models.Message{msg("m1", "alice", "bob", 0), msg("m2", "bob", "alice", time.Second)}, nil)

	read := msg("m1", "alice", "bob", 0)
	read.MarkRead(base.Add(time.Minute))
	assert.Equal(t, Replaced, r.Apply(ctx, update(read)))
	assert.Equal(t, Replaced, r.Apply(ctx, update(read)))

	got, ok := r.Message("m1")
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.Equal(t, []string{"m1", "m2"}, ids(r.Messages()))

	assert.Equal(t, Ignored, r.Apply(ctx, update(msg("m9", "alice", "bob", 0))))
	assert.Len(t, r.Messages(), 2)
}

func TestApply_ForeignThreadIsDropped(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	assert.Equal(t, Foreign, r.Apply(ctx, insert(msg("x1", "alice", "carol", 0))))
	assert.Equal(t, Foreign, r.Apply(ctx, update(msg("x2", "carol", "alice", 0))))
	assert.Empty(t, r.Messages())
}

func TestApply_ReactionEventReloadsWholesale(t *testing.T) {
	loader := &fakeLoader{reactions: []models.Reaction{{ID: "r1", MessageID: "m1", UserID: "bob", Emoji: "🔥"}}}
	r := New(realtime.NewBroker(), loader, "alice", "bob", nil)

	out := r.Apply(context.Background(), realtime.Event{Table: realtime.TableReactions, Op: realtime.OpInsert, MessageID: "m1"})
	assert.Equal(t, ReactionsReloaded, out)
	assert.Len(t, r.Reactions(), 1)

	loader.err = errors.New("db down")
	out = r.Apply(context.Background(), realtime.Event{Table: realtime.TableReactions, Op: realtime.OpDelete, MessageID: "m1"})
	assert.Equal(t, Ignored, out)
	assert.Len(t, r.Reactions(), 1)
}

func TestApply_ResyncUpserts(t *testing.T) {
	local := msg("m1", "alice", "bob", 0)
	stored := local
	stored.MarkRead(base.Add(time.Second))
	loader := &fakeLoader{
		messages:  []models.Message{stored, msg("m2", "bob", "alice", time.Second)},
		reactions: []models.Reaction{{ID: "r1", MessageID: "m2", UserID: "alice", Emoji: "👍"}},
	}
	r := New(realtime.NewBroker(), loader, "alice", "bob", nil)
	r.Reset([]models.Message{local}, nil)

	assert.Equal(t, Resynced, r.Apply(context.Background(), realtime.Event{Op: realtime.OpResync}))
	msgs := r.Messages()
	assert.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.True(t, msgs[0].Read)
	assert.Len(t, r.Reactions(), 1)
}

func TestStartStop_DeliversThroughSubscriptions(t *testing.T) {
	broker := realtime.NewBroker()
	changes := make(chan Change, 8)
	r := New(broker, &fakeLoader{}, "alice", "bob", func(c Change) { changes <- c })

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRunning)
	assert.Equal(t, 3, broker.Subscribers())

	// Sent by alice to bob: matches only messages:sender.
	broker.Publish(insert(msg("m1", "alice", "bob", 0)))
	select {
	case c := <-changes:
		assert.Equal(t, Appended, c.Outcome)
		assert.Equal(t, "m1", c.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("event not applied")
	}

	r.Stop()
	assert.False(t, r.Running())
	assert.Equal(t, 0, broker.Subscribers())

	broker.Publish(insert(msg("m2", "bob", "alice", time.Second)))
	assert.Len(t, r.Messages(), 1, "no events after Stop")
	r.Stop()
}

func TestStart_FailureClosesOpenedSubscriptions(t *testing.T) {
	broker := realtime.NewBroker()
	r := New(broker, &fakeLoader{}, "alice", "bob", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Start(ctx)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, 0, broker.Subscribers())
	assert.False(t, r.Running())
}

func TestReset_DropsForeignAndSorts(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	r.Reset([]models.Message{
		msg("m2", "bob", "alice", 2*time.Second),
		msg("x", "carol", "alice", 0),
		msg("m1", "alice", "bob", time.Second),
	}, nil)
	assert.Equal(t, []string{"m1", "m2"}, ids(r.Messages()))
}

func TestMerge_KeepsEventsAppliedBeforeLoad(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	// An event that raced ahead of the initial load.
	r.Apply(ctx, insert(msg("m3", "bob", "alice", 3*time.Second)))
	r.Merge([]models.Message{msg("m1", "alice", "bob", time.Second), msg("m2", "bob", "alice", 2*time.Second)}, nil)

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages()))
}

func TestMerge_StaleLoadNeverRevertsTombstone(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	original := msg("m1", "bob", "alice", time.Second)
	original.Content = "secret"
	r.Apply(ctx, insert(original))

	deletedAt := base.Add(time.Minute)
	by := "bob"
	tomb := original
	tomb.DeletedForEveryone, tomb.DeletedAt, tomb.DeletedBy = true, &deletedAt, &by
	require.Equal(t, Replaced, r.Apply(ctx, update(tomb)))

	r.Merge([]models.Message{original}, nil)

	got, ok := r.Message("m1")
	require.True(t, ok)
	assert.True(t, got.IsTombstone())
	assert.Equal(t, &deletedAt, got.DeletedAt)
}

func TestMerge_StaleLoadNeverUnreadsOrUnhides(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	original := msg("m1", "alice", "bob", time.Second)
	r.Apply(ctx, insert(original))

	readAt := base.Add(time.Minute)
	hiddenAt := base.Add(2 * time.Minute)
	me := "alice"
	advanced := original
	advanced.MarkRead(readAt)
	advanced.DeletedAt, advanced.DeletedBy = &hiddenAt, &me
	r.Apply(ctx, update(advanced))

	r.Merge([]models.Message{original}, nil)

	got, _ := r.Message("m1")
	assert.True(t, got.Read)
	assert.Equal(t, &readAt, got.ReadAt)
	assert.True(t, got.HiddenFor("alice"))
	assert.NoError(t, got.Validate())
}

func TestMerge_FoldsUpdateThatArrivedBeforeItsRow(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	original := msg("m1", "bob", "alice", time.Second)
	deletedAt := base.Add(time.Minute)
	by := "bob"
	tomb := original
	tomb.DeletedForEveryone, tomb.DeletedAt, tomb.DeletedBy = true, &deletedAt, &by

	// The update wins the race against the initial load; it is still not appended.
	assert.Equal(t, Ignored, r.Apply(ctx, update(tomb)))
	assert.Empty(t, r.Messages())

	r.Merge([]models.Message{original}, nil)

	got, ok := r.Message("m1")
	require.True(t, ok)
	assert.True(t, got.IsTombstone())
	assert.Len(t, r.Messages(), 1)
}

func TestMerge_NewerLoadStillWins(t *testing.T) {
	r := New(realtime.NewBroker(), &fakeLoader{}, "alice", "bob", nil)
	ctx := context.Background()

	original := msg("m1", "bob", "alice", time.Second)
	r.Apply(ctx, insert(original))

	readAt := base.Add(time.Minute)
	loaded := original
	loaded.MarkRead(readAt)
	r.Merge([]models.Message{loaded}, nil)

	got, _ := r.Message("m1")
	assert.True(t, got.Read)
}
