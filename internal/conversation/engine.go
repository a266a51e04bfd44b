// Package conversation is the per-thread orchestrator: it gates threads on a
// mutual match, persists messages, and keeps the live view of an open thread.
package conversation

import (
	"context"
	"fmt"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/models"
	"sparkchat/backend/internal/presence"
	"sparkchat/backend/internal/realtime"
	"sparkchat/backend/internal/reconciler"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Store is the message persistence the engine needs.
type Store interface {
	reconciler.Loader
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	MarkThreadRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error)
	DeleteMessageForSelf(ctx context.Context, id, callerID string, at time.Time) error
	DeleteMessageForEveryone(ctx context.Context, id, callerID string, at time.Time) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	CountUnread(ctx context.Context, receiverID string) (map[string]int64, error)
}

type Authorizer interface {
	IsMutuallyMatched(ctx context.Context, a, b string) (bool, error)
}

type Quota interface {
	CheckMessageQuota(ctx context.Context, userID, threadID string) (bool, error)
	CheckMediaQuota(ctx context.Context, userID string, kind models.ContentKind, peerID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string) error
}

type CallSignaler interface {
	StartCall(ctx context.Context, callerID, peerID string, callType models.CallType) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    Store
	Auth     Authorizer
	Quota    Quota
	Notifier Notifier
	Calls    CallSignaler
	Feed     realtime.Feed
	Presence presence.Broadcaster
	Pipeline *attachment.Pipeline
	Clock    clock.Clock
}

// Engine creates sessions and serves the one-shot queries.
type Engine struct {
	deps Deps
	bg   sync.WaitGroup
}

func NewEngine(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Engine{deps: deps}
}

// NewSession creates the conversation state of one connected user.
// mic is the audio source for voice notes.
func (e *Engine) NewSession(userID string, mic attachment.Microphone) *Session {
	return newSession(e, userID, mic)
}

// UnreadCounts returns the number of unread messages per sender.
func (e *Engine) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	return e.deps.Store.CountUnread(ctx, userID)
}

// History returns the thread as viewer sees it. It does not open a session.
func (e *Engine) History(ctx context.Context, viewerID, peerID string) ([]RenderedMessage, error) {
	if err := e.authorize(ctx, viewerID, peerID); err != nil {
		return nil, err
	}
	msgs, err := e.deps.Store.GetThreadMessages(ctx, viewerID, peerID)
	if err != nil {
		return nil, err
	}
	return Render(msgs, viewerID), nil
}

// Wait blocks until background notifications have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) authorize(ctx context.Context, a, b string) error {
	if a == "" || b == "" || a == b {
		return fmt.Errorf("%w: a thread needs two distinct users", models.ErrValidation)
	}
	ok, err := e.deps.Auth.IsMutuallyMatched(ctx, a, b)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s and %s are not matched", models.ErrPermissionDenied, a, b)
	}
	return nil
}

func (e *Engine) load(ctx context.Context, a, b string) ([]models.Message, []models.Reaction, error) {
	var (
		msgs      []models.Message
		reactions []models.Reaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		msgs, err = e.deps.Store.GetThreadMessages(gctx, a, b)
		return err
	})
	g.Go(func() (err error) {
		reactions, err = e.deps.Store.GetThreadReactions(gctx, a, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return msgs, reactions, nil
}
