package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"sync"
)

// Microphone hands out exclusive audio captures.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is an active recording.
type Capture interface {
	Write(p []byte) (int, error)
	// Flush returns everything recorded so far as one blob.
	Flush() ([]byte, error)
	// Release gives the device back.
	Release()
}

// RecorderState is the voice sub-state of a thread.
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
)

func (s RecorderState) String() string {
	if s == RecorderRecording {
		return "recording"
	}
	return "idle"
}

// Recorder guards a Microphone with the idle -> recording -> (send | cancel) machine.
type Recorder struct {
	mic Microphone

	mu      sync.Mutex
	state   RecorderState
	capture Capture
}

func NewRecorder(mic Microphone) *Recorder {
	return &Recorder{mic: mic}
}

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start acquires the microphone.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		return models.ErrDeviceBusy
	}
	capture, err := r.mic.Acquire(ctx)
	if errors.Is(err, models.ErrDeviceUnavailable) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeviceUnavailable, err)
	}
	r.capture = capture
	r.state = RecorderRecording
	return nil
}

// Chunk appends captured audio.
func (r *Recorder) Chunk(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return fmt.Errorf("%w: no recording in progress", models.ErrValidation)
	}
	_, err := r.capture.Write(p)
	return err
}

// Finish stops recording and returns the audio. The device is released and the
// recorder is idle again whatever the outcome.
func (r *Recorder) Finish() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return nil, fmt.Errorf("%w: no recording in progress", models.ErrValidation)
	}
	data, err := r.capture.Flush()
	r.releaseLocked()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty recording", models.ErrValidation)
	}
	if err := CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	return data, nil
}

// Cancel discards the recording. It is a no-op when idle.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		r.releaseLocked()
	}
}

func (r *Recorder) releaseLocked() {
	r.capture.Release()
	r.capture = nil
	r.state = RecorderIdle
}

// StreamMicrophone is the microphone of a remote client: audio arrives as
// chunks over the connection. It can be held by one capture at a time.
type StreamMicrophone struct {
	mu   sync.Mutex
	busy bool
}

func NewStreamMicrophone() *StreamMicrophone { return &StreamMicrophone{} }

func (m *StreamMicrophone) Acquire(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, models.ErrDeviceBusy
	}
	m.busy = true
	return &streamCapture{mic: m}, nil
}

type streamCapture struct {
	mic      *StreamMicrophone
	buf      bytes.Buffer
	released bool
}

// Write keeps at most one byte past the ceiling so Finish can report the overflow
// without buffering an unbounded stream.
func (c *streamCapture) Write(p []byte) (int, error) {
	room := config.MaxAttachmentBytes + 1 - c.buf.Len()
	if room <= 0 {
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *streamCapture) Flush() ([]byte, error) {
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out, nil
}

func (c *streamCapture) Release() {
	if c.released {
		return
	}
	c.released = true
	c.buf.Reset()
	c.mic.mu.Lock()
	c.mic.busy = false
	c.mic.mu.Unlock()
}
