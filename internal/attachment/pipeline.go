package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/metrics"
	"sparkchat/backend/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Pipeline turns local bytes into uploaded objects.
type Pipeline struct {
	store    ObjectStore
	previews Previews
	clk      clock.Clock
}

func NewPipeline(store ObjectStore, previews Previews, clk clock.Clock) *Pipeline {
	return &Pipeline{store: store, previews: previews, clk: clk}
}

func (p *Pipeline) Previews() Previews { return p.previews }

// CheckSize enforces the attachment ceiling.
func CheckSize(size int64) error {
	if size > config.MaxAttachmentBytes {
		return fmt.Errorf("%w: %s exceeds the %s limit", models.ErrPayloadTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(config.MaxAttachmentBytes))
	}
	return nil
}

// Stage validates and buffers a selected file. The declared size is checked
// before anything is read.
func (p *Pipeline) Stage(name string, r io.Reader, size int64) (*PendingAttachment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty attachment", models.ErrValidation)
	}
	if err := CheckSize(size); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, config.MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read attachment: %v", models.ErrValidation, err)
	}
	if err := CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty attachment", models.ErrValidation)
	}

	kind, mime, err := DetectKind(data)
	if err != nil {
		return nil, err
	}
	ref, err := p.previews.Create(data, mime)
	if err != nil {
		return nil, err
	}
	return &PendingAttachment{
		Name:       name,
		Kind:       kind,
		MIME:       mime,
		Size:       int64(len(data)),
		PreviewRef: ref,
		data:       data,
		previews:   p.previews,
	}, nil
}

// Discard drops a staged attachment without touching the network.
func (p *Pipeline) Discard(pa *PendingAttachment) {
	if pa != nil {
		pa.Release()
	}
}

// Upload stores data and returns its URL. Images are compressed first.
// If ctx is cancelled while uploading the object is removed and ctx.Err() returned,
// so a cancelled upload can never be turned into a message.
func (p *Pipeline) Upload(ctx context.Context, kind models.ContentKind, data []byte, mime string, progress *Progress) (string, error) {
	_, url, err := p.put(ctx, kind, data, mime, progress)
	return url, err
}

// UploadAndCommit uploads like Upload and then hands the URL to commit. When
// commit fails, or ctx ends before it succeeds, the object is removed so nothing
// is left behind that no message refers to.
func (p *Pipeline) UploadAndCommit(ctx context.Context, kind models.ContentKind, data []byte, mime string, progress *Progress, commit func(ctx context.Context, url string) error) error {
	key, url, err := p.put(ctx, kind, data, mime, progress)
	if err != nil {
		return err
	}
	if err := commit(ctx, url); err != nil {
		metrics.Uploads.WithLabelValues(string(kind), "cancelled").Inc()
		p.remove(ctx, key)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *Pipeline) put(ctx context.Context, kind models.ContentKind, data []byte, mime string, progress *Progress) (string, string, error) {
	if err := CheckSize(int64(len(data))); err != nil {
		return "", "", err
	}
	if kind == models.KindImage {
		data, mime = CompressImage(data, mime)
	}
	key := fmt.Sprintf("%s/%s%s", kind, uuid.NewString(), extension(data))

	if progress == nil {
		progress = NewProgress(nil)
	}
	var onBytes ProgressFunc
	if p.store.ReportsProgress() {
		onBytes = progress.Bytes
	} else {
		stop := progress.StartSynthetic(p.clk)
		defer stop()
	}

	url, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime, onBytes)
	if err != nil {
		metrics.Uploads.WithLabelValues(string(kind), "failed").Inc()
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if errors.Is(err, models.ErrTransport) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: upload: %v", models.ErrTransport, err)
	}
	if ctx.Err() != nil {
		metrics.Uploads.WithLabelValues(string(kind), "cancelled").Inc()
		p.remove(ctx, key)
		return "", "", ctx.Err()
	}

	progress.Complete()
	metrics.Uploads.WithLabelValues(string(kind), "ok").Inc()
	return key, url, nil
}

func (p *Pipeline) remove(ctx context.Context, key string) {
	if err := p.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cleanup of abandoned upload failed")
	}
}
