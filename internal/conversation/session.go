package conversation

import (
	"context"
	"errors"
	"fmt"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/metrics"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/presence"
	"sparkchat/backend/internal/realtime"
	"sparkchat/backend/internal/reconciler"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const updateBuffer = 256

type threadState int32

const (
	stateOpening threadState = iota
	stateInert
	stateOpen
	stateClosed
)

// thread is everything that lives exactly as long as one opened peer.
type thread struct {
	peerID   string
	threadID string
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc

	// rec is set under Session.mu before its pumps start.
	rec      *reconciler.Reconciler
	typing   atomic.Pointer[presence.Channel]
	recorder *attachment.Recorder

	mu       sync.Mutex
	pending  *attachment.PendingAttachment
	progress *attachment.Progress
}

func (t *thread) is(s threadState) bool { return threadState(t.state.Load()) == s }

func (t *thread) peerTyping() bool {
	typing := t.typing.Load()
	return typing != nil && typing.PeerTyping()
}

// Session is the conversation state of one connected user. It owns at most one
// thread at a time; opening another peer tears the previous thread down.
type Session struct {
	engine *Engine
	userID string
	mic    attachment.Microphone

	updates chan Update
	done    chan struct{}
	once    sync.Once

	mu sync.Mutex
	th *thread

	// Serializes reaction toggles of this user.
	reactMu sync.Mutex
}

func newSession(e *Engine, userID string, mic attachment.Microphone) *Session {
	if mic == nil {
		mic = attachment.NewStreamMicrophone()
	}
	return &Session{
		engine:  e,
		userID:  userID,
		mic:     mic,
		updates: make(chan Update, updateBuffer),
		done:    make(chan struct{}),
	}
}

func (s *Session) UserID() string { return s.userID }

// Updates streams view changes of the open thread. It is never closed; watch Done.
func (s *Session) Updates() <-chan Update { return s.updates }

// Done is closed by Shutdown.
func (s *Session) Done() <-chan struct{} { return s.done }

// PeerID returns the peer of the current thread, open or not.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th == nil {
		return ""
	}
	return s.th.peerID
}

// IsOpen reports whether a thread is open and authorized.
func (s *Session) IsOpen() bool {
	_, err := s.openThread()
	return err == nil
}

// Open authorizes the thread with peerID, subscribes to its changes, loads its
// history and marks incoming messages read. A failed authorization leaves the
// thread inert: every operation then fails with ErrPermissionDenied.
func (s *Session) Open(ctx context.Context, peerID string) error {
	if peerID == "" || peerID == s.userID {
		return fmt.Errorf("%w: invalid peer", models.ErrValidation)
	}
	th := s.begin(peerID)

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(th.ctx, cancel)
	defer stop()

	if err := s.engine.authorize(opCtx, s.userID, peerID); err != nil {
		s.abandon(th)
		return s.canceledOr(th, err)
	}

	deps := s.engine.deps
	rec := reconciler.New(deps.Feed, deps.Store, s.userID, peerID, s.onChange(th))
	if !s.attach(th, func() { th.rec = rec }) {
		return context.Canceled
	}
	if err := rec.Start(th.ctx); err != nil {
		s.abandon(th)
		return s.canceledOr(th, err)
	}

	msgs, reactions, err := s.engine.load(opCtx, s.userID, peerID)
	if err != nil {
		s.abandon(th)
		return s.canceledOr(th, err)
	}
	rec.Merge(msgs, reactions)

	typing, err := presence.Open(th.ctx, deps.Presence, deps.Clock, th.threadID, s.userID, func(v bool) {
		s.emit(Update{Type: UpdateTyping, PeerID: peerID, Typing: &v})
	})
	if err != nil {
		log.Warn().Err(err).Str("thread", th.threadID).Msg("typing channel unavailable")
	}
	if !s.attach(th, func() {
		if typing != nil {
			th.typing.Store(typing)
		}
		th.state.Store(int32(stateOpen))
	}) {
		if typing != nil {
			typing.Close()
		}
		return context.Canceled
	}

	log.Info().Str("user", s.userID).Str("thread", th.threadID).Int("messages", len(msgs)).Msg("thread opened")
	if err := s.markRead(opCtx, th); err != nil {
		log.Warn().Err(err).Str("thread", th.threadID).Msg("mark read on open failed")
	}
	s.emitSnapshot(th)
	return nil
}

// Close tears down the current thread, if any.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th != nil {
		s.teardownLocked(s.th)
		s.th = nil
	}
}

// Shutdown closes the thread and ends the session for good.
func (s *Session) Shutdown() {
	s.Close()
	s.once.Do(func() { close(s.done) })
}

// begin installs a fresh thread in the opening state after tearing down the previous one.
func (s *Session) begin(peerID string) *thread {
	ctx, cancel := context.WithCancel(context.Background())
	th := &thread{
		peerID:   peerID,
		threadID: models.ThreadID(s.userID, peerID),
		ctx:      ctx,
		cancel:   cancel,
		recorder: attachment.NewRecorder(s.mic),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th != nil {
		s.teardownLocked(s.th)
	}
	s.th = th
	return th
}

// attach runs f under the session lock if th is still the live thread.
func (s *Session) attach(th *thread, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th != th || th.ctx.Err() != nil {
		return false
	}
	f()
	return true
}

// abandon tears th down but keeps it installed as an inert thread.
func (s *Session) abandon(th *thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th != th {
		return
	}
	s.teardownLocked(th)
	th.state.Store(int32(stateInert))
}

func (s *Session) canceledOr(th *thread, err error) error {
	if th.ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

func (s *Session) teardownLocked(th *thread) {
	th.state.Store(int32(stateClosed))
	th.cancel()
	if th.rec != nil {
		th.rec.Stop()
	}
	if typing := th.typing.Load(); typing != nil {
		typing.Close()
	}
	th.recorder.Cancel()

	th.mu.Lock()
	if th.pending != nil {
		th.pending.Release()
		th.pending = nil
	}
	th.progress = nil
	th.mu.Unlock()
}

func (s *Session) openThread() (*thread, error) {
	s.mu.Lock()
	th := s.th
	s.mu.Unlock()
	if th == nil || !th.is(stateOpen) {
		return nil, fmt.Errorf("%w: no open thread", models.ErrPermissionDenied)
	}
	return th, nil
}

// withThread derives an operation context that also ends when the thread closes.
func withThread(ctx context.Context, th *thread) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(th.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Send persists a text message.
func (s *Session) Send(ctx context.Context, text string) (*models.Message, error) {
	th, err := s.openThread()
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", models.ErrValidation)
	}
	ok, err := s.engine.deps.Quota.CheckMessageQuota(ctx, s.userID, th.threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: daily message limit reached", models.ErrQuotaExceeded)
	}
	return s.persist(ctx, th, models.KindText, text)
}

// persist writes the message, echoes it locally and notifies the peer.
func (s *Session) persist(ctx context.Context, th *thread, kind models.ContentKind, content string) (*models.Message, error) {
	msg := &models.Message{
		SenderID:   s.userID,
		ReceiverID: th.peerID,
		Content:    content,
		CreatedAt:  s.engine.deps.Clock.Now(),
	}
	if err := s.engine.deps.Store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()

	th.rec.InsertLocal(*msg)
	if typing := th.typing.Load(); typing != nil {
		typing.Clear()
	}
	s.notifyPeer(th.peerID, kind, content)
	return msg, nil
}

func (s *Session) notifyPeer(peerID string, kind models.ContentKind, content string) {
	n := s.engine.deps.Notifier
	if n == nil {
		return
	}
	title := "new_message"
	if kind.IsAttachment() {
		title = "new_media"
	}
	data := map[string]string{
		"sender_id": s.userID,
		"thread_id": models.ThreadID(s.userID, peerID),
		"kind":      string(kind),
	}

	s.engine.bg.Add(1)
	go func() {
		defer s.engine.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.NotifyTimeout)
		defer cancel()
		if err := n.Notify(ctx, peerID, title, content, data); err != nil {
			log.Warn().Err(err).Str("user", peerID).Msg("notification failed")
		}
	}()
}

// MarkAsRead marks every unread message addressed to this user in the thread.
func (s *Session) MarkAsRead(ctx context.Context) error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	return s.markRead(ctx, th)
}

func (s *Session) markRead(ctx context.Context, th *thread) error {
	n, err := s.engine.deps.Store.MarkThreadRead(ctx, s.userID, th.peerID, s.engine.deps.Clock.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug().Str("thread", th.threadID).Int64("count", n).Msg("messages marked read")
	}
	return nil
}

// React toggles emoji on a message and reports whether it is now set.
func (s *Session) React(ctx context.Context, messageID, emoji string) (bool, error) {
	th, err := s.openThread()
	if err != nil {
		return false, err
	}
	if !config.IsAllowedEmoji(emoji) {
		return false, fmt.Errorf("%w: emoji %q is not allowed", models.ErrValidation, emoji)
	}
	msg, err := s.lookup(ctx, th, messageID)
	if err != nil {
		return false, err
	}
	if !reactable(msg, s.userID) {
		return false, fmt.Errorf("%w: message is deleted", models.ErrValidation)
	}

	s.reactMu.Lock()
	defer s.reactMu.Unlock()
	added, err := s.engine.deps.Store.ToggleReaction(ctx, messageID, s.userID, emoji)
	if err != nil {
		return false, err
	}
	if err := th.rec.ReloadReactions(ctx); err != nil {
		log.Warn().Err(err).Str("thread", th.threadID).Msg("reaction reload failed")
	} else {
		s.emitReactions(th)
	}
	return added, nil
}

// DeleteMessage hides a message for this user, or retracts it for both
// participants when forEveryone is set.
func (s *Session) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	msg, err := s.lookup(ctx, th, messageID)
	if err != nil {
		return err
	}
	now := s.engine.deps.Clock.Now()
	store := s.engine.deps.Store

	if forEveryone {
		if err := msg.CanDeleteForEveryone(s.userID, now); err != nil {
			return err
		}
		err = store.DeleteMessageForEveryone(ctx, messageID, s.userID, now)
	} else {
		if msg.IsTombstone() || msg.HiddenFor(s.userID) {
			return fmt.Errorf("%w: message is already deleted", models.ErrPermissionDenied)
		}
		err = store.DeleteMessageForSelf(ctx, messageID, s.userID, now)
	}
	if err != nil {
		return err
	}
	s.refresh(ctx, th, messageID)
	return nil
}

// CanDeleteForEveryone reports whether the retraction is still allowed right now.
func (s *Session) CanDeleteForEveryone(messageID string) bool {
	th, err := s.openThread()
	if err != nil {
		return false
	}
	msg, ok := th.rec.Message(messageID)
	if !ok {
		return false
	}
	return msg.CanDeleteForEveryone(s.userID, s.engine.deps.Clock.Now()) == nil
}

// lookup finds a message of the open thread, falling back to the store.
func (s *Session) lookup(ctx context.Context, th *thread, id string) (models.Message, error) {
	if msg, ok := th.rec.Message(id); ok {
		return msg, nil
	}
	msg, err := s.engine.deps.Store.GetMessageByID(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if !msg.BelongsTo(s.userID, th.peerID) {
		return models.Message{}, fmt.Errorf("%w: message %s", models.ErrNotFound, id)
	}
	return *msg, nil
}

// refresh re-reads a row after a local mutation instead of waiting for the feed.
func (s *Session) refresh(ctx context.Context, th *thread, id string) {
	msg, err := s.engine.deps.Store.GetMessageByID(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("thread", th.threadID).Msg("refresh after mutation failed")
		return
	}
	th.rec.Apply(ctx, realtime.Event{Table: realtime.TableMessages, Op: realtime.OpUpdate, Message: msg})
}

// NotifyTyping reports a local keystroke.
func (s *Session) NotifyTyping() error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	if typing := th.typing.Load(); typing != nil {
		typing.Keystroke()
	}
	return nil
}

// StartCall asks the signaling service to ring the peer.
func (s *Session) StartCall(ctx context.Context, callType models.CallType) error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	return s.engine.deps.Calls.StartCall(ctx, s.userID, th.peerID, callType)
}

// Messages returns the rendered view of the open thread.
func (s *Session) Messages() []RenderedMessage {
	th, err := s.openThread()
	if err != nil {
		return nil
	}
	return Render(th.rec.Messages(), s.userID)
}

// Reactions returns the reaction groups of the open thread, keyed by message id.
func (s *Session) Reactions() map[string][]models.ReactionGroup {
	th, err := s.openThread()
	if err != nil {
		return nil
	}
	return RenderReactions(th.rec.Messages(), th.rec.Reactions(), s.userID)
}

// PeerTyping reports whether the peer is typing in the open thread.
func (s *Session) PeerTyping() bool {
	th, err := s.openThread()
	if err != nil {
		return false
	}
	return th.peerTyping()
}

// UploadProgress returns the progress of the current upload, or 0.
func (s *Session) UploadProgress() int {
	th, err := s.openThread()
	if err != nil {
		return 0
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.progress == nil {
		return 0
	}
	return th.progress.Value()
}

func (s *Session) onChange(th *thread) func(reconciler.Change) {
	return func(c reconciler.Change) {
		if th.is(stateClosed) {
			return
		}
		switch c.Outcome {
		case reconciler.Appended:
			if r, ok := RenderOne(*c.Message, s.userID); ok {
				s.emit(Update{Type: UpdateMessage, PeerID: th.peerID, Message: &r})
			}
			if c.ScrollToLatest {
				s.emit(Update{Type: UpdateScrollLatest, PeerID: th.peerID})
			}
			if c.Message.ReceiverID == s.userID && !c.Message.Read && th.is(stateOpen) {
				if err := s.markRead(th.ctx, th); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Str("thread", th.threadID).Msg("auto mark read failed")
				}
			}
		case reconciler.Replaced:
			if r, ok := RenderOne(*c.Message, s.userID); ok {
				s.emit(Update{Type: UpdateMessageUpdated, PeerID: th.peerID, Message: &r})
			} else {
				s.emit(Update{Type: UpdateMessageUpdated, PeerID: th.peerID, RemovedID: c.Message.ID})
			}
			if !reactable(*c.Message, s.userID) {
				s.emitReactions(th)
			}
		case reconciler.ReactionsReloaded:
			s.emitReactions(th)
		case reconciler.Resynced:
			s.emitSnapshot(th)
		}
	}
}

func (s *Session) emitSnapshot(th *thread) {
	msgs := th.rec.Messages()
	typing := th.peerTyping()
	s.emit(Update{
		Type:      UpdateSnapshot,
		PeerID:    th.peerID,
		Messages:  Render(msgs, s.userID),
		Reactions: RenderReactions(msgs, th.rec.Reactions(), s.userID),
		Typing:    &typing,
	})
}

func (s *Session) emitReactions(th *thread) {
	s.emit(Update{
		Type:      UpdateReactions,
		PeerID:    th.peerID,
		Reactions: RenderReactions(th.rec.Messages(), th.rec.Reactions(), s.userID),
	})
}

// emit never blocks; a consumer that falls this far behind gets a snapshot on its next open.
func (s *Session) emit(u Update) {
	select {
	case <-s.done:
	case s.updates <- u:
	default:
		log.Warn().Str("user", s.userID).Str("type", string(u.Type)).Msg("update dropped, consumer too slow")
	}
}
