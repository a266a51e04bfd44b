// Package reconciler merges the realtime streams of one thread into a single ordered view.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sparkchat/backend/internal/metrics"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/realtime"
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscription names.
const (
	SubMessagesSender   = "messages:sender"
	SubMessagesReceiver = "messages:receiver"
	SubReactions        = "reactions"
)

// Outcome is what Apply did with an event.
type Outcome string

const (
	Appended          Outcome = "appended"
	Replaced          Outcome = "replaced"
	Duplicate         Outcome = "duplicate"
	Ignored           Outcome = "ignored"
	Foreign           Outcome = "foreign"
	ReactionsReloaded Outcome = "reactions_reloaded"
	Resynced          Outcome = "resynced"
)

// Change is handed to the listener after every state mutation.
type Change struct {
	Outcome        Outcome
	Message        *models.Message
	ScrollToLatest bool
}

// Loader reads the authoritative thread state.
type Loader interface {
	GetThreadMessages(ctx context.Context, a, b string) ([]models.Message, error)
	GetThreadReactions(ctx context.Context, a, b string) ([]models.Reaction, error)
}

var ErrRunning = errors.New("reconciler already started")

// Reconciler owns the message list and reaction rows of the thread between selfID and peerID.
// All mutations go through Apply (or InsertLocal, which is an insert event produced locally).
type Reconciler struct {
	feed     realtime.Feed
	loader   Loader
	selfID   string
	peerID   string
	onChange func(Change)

	mu        sync.Mutex
	messages  []models.Message
	index     map[string]int
	reactions []models.Reaction
	// updates for rows not loaded yet, folded in by the next Merge
	early map[string]models.Message

	runMu  sync.Mutex
	subs   map[string]realtime.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler. onChange may be nil; it is called from pump goroutines.
func New(feed realtime.Feed, loader Loader, selfID, peerID string, onChange func(Change)) *Reconciler {
	return &Reconciler{
		feed:     feed,
		loader:   loader,
		selfID:   selfID,
		peerID:   peerID,
		onChange: onChange,
		index:    make(map[string]int),
	}
}

// Reset replaces the whole state, typically with the initial load.
func (r *Reconciler) Reset(messages []models.Message, reactions []models.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = r.messages[:0]
	for _, m := range messages {
		if m.BelongsTo(r.selfID, r.peerID) {
			r.messages = append(r.messages, m)
		}
	}
	sort.SliceStable(r.messages, func(i, j int) bool {
		return r.messages[i].CreatedAt.Before(r.messages[j].CreatedAt)
	})
	r.reindexLocked()
	r.reactions = append([]models.Reaction(nil), reactions...)
	r.early = nil
}

// Start opens the three named subscriptions and their pumps.
func (r *Reconciler) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.subs != nil {
		return ErrRunning
	}

	filters := map[string]realtime.Filter{
		SubMessagesSender:   {Table: realtime.TableMessages, SenderID: r.selfID},
		SubMessagesReceiver: {Table: realtime.TableMessages, ReceiverID: r.selfID},
		SubReactions:        {Table: realtime.TableReactions},
	}

	runCtx, cancel := context.WithCancel(ctx)
	subs := make(map[string]realtime.Subscription, len(filters))
	for name, f := range filters {
		sub, err := r.feed.Subscribe(runCtx, f)
		if err != nil {
			cancel()
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("%w: subscribe %s: %v", models.ErrTransport, name, err)
		}
		subs[name] = sub
	}

	r.subs = subs
	r.cancel = cancel
	for name, sub := range subs {
		r.wg.Add(1)
		go r.pump(runCtx, name, sub)
	}
	return nil
}

// Stop closes every subscription and waits for the pumps to drain.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.subs == nil {
		return
	}
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Close()
	}
	r.wg.Wait()
	r.subs = nil
	r.cancel = nil
}

// Running reports whether subscriptions are open.
func (r *Reconciler) Running() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.subs != nil
}

func (r *Reconciler) pump(ctx context.Context, name string, sub realtime.Subscription) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			outcome := r.Apply(ctx, ev)
			log.Debug().Str("subscription", name).Str("outcome", string(outcome)).Msg("realtime event applied")
		}
	}
}

// Apply folds one event into the state. It is idempotent: replaying an event
// yields Duplicate (insert) or an identical Replaced (update).
func (r *Reconciler) Apply(ctx context.Context, ev realtime.Event) Outcome {
	var (
		outcome Outcome
		change  *Change
	)
	switch {
	case ev.Op == realtime.OpResync:
		outcome = r.resync(ctx)
		if outcome == Resynced {
			change = &Change{Outcome: Resynced}
		}
	case ev.Table == realtime.TableReactions:
		if err := r.ReloadReactions(ctx); err != nil {
			log.Warn().Err(err).Str("user", r.selfID).Msg("reaction reload failed")
			outcome = Ignored
		} else {
			outcome = ReactionsReloaded
			change = &Change{Outcome: ReactionsReloaded}
		}
	case ev.Message == nil:
		outcome = Ignored
	default:
		outcome, change = r.applyMessage(ev.Op, *ev.Message)
	}

	metrics.ReconcilerOutcomes.WithLabelValues(string(outcome)).Inc()
	if change != nil && r.onChange != nil {
		r.onChange(*change)
	}
	return outcome
}

// InsertLocal adds an optimistic echo of a message this session just persisted.
func (r *Reconciler) InsertLocal(msg models.Message) Outcome {
	outcome, change := r.applyMessage(realtime.OpInsert, msg)
	if change != nil && r.onChange != nil {
		r.onChange(*change)
	}
	return outcome
}

func (r *Reconciler) applyMessage(op realtime.Op, msg models.Message) (Outcome, *Change) {
	if !msg.BelongsTo(r.selfID, r.peerID) {
		return Foreign, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch op {
	case realtime.OpInsert:
		if _, ok := r.index[msg.ID]; ok {
			return Duplicate, nil
		}
		last := r.insertLocked(msg)
		return Appended, &Change{Outcome: Appended, Message: &msg, ScrollToLatest: last}
	case realtime.OpUpdate:
		i, ok := r.index[msg.ID]
		if !ok {
			r.holdEarlyLocked(msg)
			return Ignored, nil
		}
		msg = forward(r.messages[i], msg)
		r.messages[i] = msg
		return Replaced, &Change{Outcome: Replaced, Message: &msg}
	default:
		return Ignored, nil
	}
}

// insertLocked places msg after every message created at or before it and
// reports whether it landed at the tail.
func (r *Reconciler) insertLocked(msg models.Message) bool {
	pos := sort.Search(len(r.messages), func(i int) bool {
		return r.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	r.messages = append(r.messages, models.Message{})
	copy(r.messages[pos+1:], r.messages[pos:])
	r.messages[pos] = msg
	r.reindexLocked()
	return pos == len(r.messages)-1
}

func (r *Reconciler) reindexLocked() {
	r.index = make(map[string]int, len(r.messages))
	for i, m := range r.messages {
		r.index[m.ID] = i
	}
}

// resync reloads the authoritative state and merges it as upserts.
func (r *Reconciler) resync(ctx context.Context) Outcome {
	msgs, err := r.loader.GetThreadMessages(ctx, r.selfID, r.peerID)
	if err != nil {
		log.Warn().Err(err).Str("user", r.selfID).Msg("resync: loading messages failed")
		return Ignored
	}
	reactions, err := r.loader.GetThreadReactions(ctx, r.selfID, r.peerID)
	if err != nil {
		log.Warn().Err(err).Str("user", r.selfID).Msg("resync: loading reactions failed")
		return Ignored
	}

	r.Merge(msgs, reactions)
	return Resynced
}

// Merge upserts messages by id and replaces the reaction rows.
// Safe to call while subscriptions are running: a loaded row never moves a held
// message or an early update backwards.
func (r *Reconciler) Merge(msgs []models.Message, reactions []models.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if !m.BelongsTo(r.selfID, r.peerID) {
			continue
		}
		if e, ok := r.early[m.ID]; ok {
			m = forward(m, e)
		}
		if i, ok := r.index[m.ID]; ok {
			r.messages[i] = forward(r.messages[i], m)
			continue
		}
		r.insertLocked(m)
	}
	r.early = nil
	r.reactions = append([]models.Reaction(nil), reactions...)
}

func (r *Reconciler) holdEarlyLocked(msg models.Message) {
	if r.early == nil {
		r.early = make(map[string]models.Message)
	}
	if prev, ok := r.early[msg.ID]; ok {
		msg = forward(prev, msg)
	}
	r.early[msg.ID] = msg
}

// forward returns next, except that lifecycle state never goes back: a read
// message stays read, a hidden one stays hidden and a tombstone stays a tombstone.
func forward(held, next models.Message) models.Message {
	if held.Read && !next.Read {
		next.Read, next.ReadAt = true, held.ReadAt
	}
	switch {
	case next.DeletedForEveryone:
	case held.DeletedForEveryone:
		next.DeletedForEveryone = true
		next.DeletedAt, next.DeletedBy = held.DeletedAt, held.DeletedBy
	case held.DeletedAt != nil && next.DeletedAt == nil:
		next.DeletedAt, next.DeletedBy = held.DeletedAt, held.DeletedBy
	}
	return next
}

// ReloadReactions replaces the reaction rows with a fresh read of the thread.
func (r *Reconciler) ReloadReactions(ctx context.Context) error {
	reactions, err := r.loader.GetThreadReactions(ctx, r.selfID, r.peerID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.reactions = reactions
	r.mu.Unlock()
	return nil
}

// Messages returns a copy of the ordered message list.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.messages...)
}

// Message looks a message up by id.
func (r *Reconciler) Message(id string) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return models.Message{}, false
	}
	return r.messages[i], true
}

// Reactions returns a copy of the reaction rows.
func (r *Reconciler) Reactions() []models.Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Reaction(nil), r.reactions...)
}
