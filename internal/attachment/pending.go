package attachment

import (
	"sparkchat/backend/internal/models"
	"sync"
	"sync/atomic"
)

// PendingAttachment is a staged file waiting for the user to confirm or cancel.
type PendingAttachment struct {
	Name       string
	Kind       models.ContentKind
	MIME       string
	Size       int64
	PreviewRef string

	data     []byte
	previews Previews
	once     sync.Once
	released atomic.Bool
}

func (p *PendingAttachment) Data() []byte { return p.data }

// Release frees the preview. Only the first call has an effect.
func (p *PendingAttachment) Release() {
	p.once.Do(func() {
		if p.previews != nil && p.PreviewRef != "" {
			p.previews.Release(p.PreviewRef)
		}
		p.data = nil
		p.released.Store(true)
	})
}

func (p *PendingAttachment) Released() bool { return p.released.Load() }
