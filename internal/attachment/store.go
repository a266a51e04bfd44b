// Package attachment stages, compresses and uploads media and voice notes.
package attachment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sparkchat/backend/internal/models"
	"strings"
)

// ProgressFunc receives byte progress of an upload.
type ProgressFunc func(written, total int64)

// ObjectStore persists uploaded blobs and hands back their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress ProgressFunc) (string, error)
	Delete(ctx context.Context, key string) error
	// ReportsProgress tells whether Put calls progress with real byte counts.
	ReportsProgress() bool
}

// DiskStore keeps objects under Dir and serves them from BaseURL.
type DiskStore struct {
	Dir     string
	BaseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir: %v", models.ErrTransport, err)
	}
	return &DiskStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *DiskStore) ReportsProgress() bool { return true }

func (d *DiskStore) Put(ctx context.Context, key string, r io.Reader, size int64, _ string, progress ProgressFunc) (string, error) {
	path, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	_, copyErr := io.Copy(f, &progressReader{ctx: ctx, r: r, total: size, progress: progress})
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: write object: %v", models.ErrTransport, copyErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return d.BaseURL + "/" + key, nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return nil
}

func (d *DiskStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: bad object key %q", models.ErrValidation, key)
	}
	return filepath.Join(d.Dir, filepath.FromSlash(clean)), nil
}

// progressReader reports bytes as they are read and aborts once ctx is done.
type progressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	written  int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.written += int64(n)
	if n > 0 && p.progress != nil {
		p.progress(p.written, p.total)
	}
	return n, err
}
