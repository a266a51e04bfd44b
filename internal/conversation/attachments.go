package conversation

import (
	"context"
	"fmt"
	"io"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// StageAttachment buffers a selected file for confirmation, replacing any file
// staged before it.
func (s *Session) StageAttachment(ctx context.Context, name string, r io.Reader, size int64) (*attachment.PendingAttachment, error) {
	th, err := s.openThread()
	if err != nil {
		return nil, err
	}
	pa, err := s.engine.deps.Pipeline.Stage(name, r, size)
	if err != nil {
		return nil, err
	}

	th.mu.Lock()
	prev := th.pending
	th.pending = pa
	th.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	if !th.is(stateOpen) {
		// The thread closed while we were reading.
		s.takePending(th)
		pa.Release()
		return nil, context.Canceled
	}
	log.Debug().Str("thread", th.threadID).Str("kind", string(pa.Kind)).Int64("size", pa.Size).Msg("attachment staged")
	return pa, nil
}

// PendingAttachment returns the staged file, if any.
func (s *Session) PendingAttachment() *attachment.PendingAttachment {
	th, err := s.openThread()
	if err != nil {
		return nil
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.pending
}

// CancelAttachment drops the staged file.
func (s *Session) CancelAttachment() {
	th, err := s.openThread()
	if err != nil {
		return
	}
	if pa := s.takePending(th); pa != nil {
		pa.Release()
	}
}

// ConfirmAttachment uploads the staged file and sends it as a message.
// The staged file is released whatever the outcome.
func (s *Session) ConfirmAttachment(ctx context.Context) (*models.Message, error) {
	th, err := s.openThread()
	if err != nil {
		return nil, err
	}
	pa := s.takePending(th)
	if pa == nil {
		return nil, fmt.Errorf("%w: no attachment staged", models.ErrValidation)
	}
	defer pa.Release()

	return s.sendMedia(ctx, th, pa.Kind, pa.Data(), pa.MIME)
}

// StartVoice acquires the microphone for a voice note.
func (s *Session) StartVoice(ctx context.Context) error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	return th.recorder.Start(ctx)
}

// VoiceChunk appends captured audio to the recording in progress.
func (s *Session) VoiceChunk(p []byte) error {
	th, err := s.openThread()
	if err != nil {
		return err
	}
	return th.recorder.Chunk(p)
}

// CancelVoice discards the recording in progress.
func (s *Session) CancelVoice() {
	th, err := s.openThread()
	if err != nil {
		return
	}
	th.recorder.Cancel()
}

// Recording reports whether a voice note is being captured.
func (s *Session) Recording() bool {
	th, err := s.openThread()
	if err != nil {
		return false
	}
	return th.recorder.State() == attachment.RecorderRecording
}

// SendVoice stops the recording, uploads it and sends it as a voice note.
func (s *Session) SendVoice(ctx context.Context) (*models.Message, error) {
	th, err := s.openThread()
	if err != nil {
		return nil, err
	}
	data, err := th.recorder.Finish()
	if err != nil {
		return nil, err
	}
	return s.sendMedia(ctx, th, models.KindVoice, data, attachment.SniffMIME(data))
}

func (s *Session) sendMedia(ctx context.Context, th *thread, kind models.ContentKind, data []byte, mime string) (*models.Message, error) {
	ok, err := s.engine.deps.Quota.CheckMediaQuota(ctx, s.userID, kind, th.peerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: daily media limit reached", models.ErrQuotaExceeded)
	}

	opCtx, cancel := withThread(ctx, th)
	defer cancel()

	progress := attachment.NewProgress(func(v int) {
		s.emit(Update{Type: UpdateUploadProgress, PeerID: th.peerID, Progress: &v})
	})
	th.mu.Lock()
	th.progress = progress
	th.mu.Unlock()
	defer func() {
		th.mu.Lock()
		if th.progress == progress {
			th.progress = nil
		}
		th.mu.Unlock()
	}()

	var msg *models.Message
	err = s.engine.deps.Pipeline.UploadAndCommit(opCtx, kind, data, mime, progress, func(ctx context.Context, url string) error {
		// th.ctx is cancelled synchronously by teardown; opCtx follows it asynchronously.
		if !th.is(stateOpen) || th.ctx.Err() != nil {
			return context.Canceled
		}
		m, err := s.persist(ctx, th, kind, models.EncodeAttachment(kind, url))
		msg = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Session) takePending(th *thread) *attachment.PendingAttachment {
	th.mu.Lock()
	defer th.mu.Unlock()
	pa := th.pending
	th.pending = nil
	return pa
}
