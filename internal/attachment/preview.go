package attachment

import (
	"sync"

	"github.com/google/uuid"
)

// Previews holds local previews of staged attachments until they are released.
type Previews interface {
	Create(data []byte, mime string) (string, error)
	Get(ref string) ([]byte, string, bool)
	Release(ref string)
}

type preview struct {
	data []byte
	mime string
}

// MemoryPreviews keeps previews in process memory, keyed by a random reference.
type MemoryPreviews struct {
	mu    sync.RWMutex
	items map[string]preview
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{items: make(map[string]preview)}
}

// Create stores a thumbnail for images and the original bytes for everything else.
func (m *MemoryPreviews) Create(data []byte, mime string) (string, error) {
	p := preview{data: data, mime: mime}
	if thumb, ok := thumbnail(data, mime); ok {
		p = preview{data: thumb, mime: "image/jpeg"}
	}
	ref := uuid.NewString()
	m.mu.Lock()
	m.items[ref] = p
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryPreviews) Get(ref string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[ref]
	return p.data, p.mime, ok
}

func (m *MemoryPreviews) Release(ref string) {
	m.mu.Lock()
	delete(m.items, ref)
	m.mu.Unlock()
}

// Len returns the number of live previews.
func (m *MemoryPreviews) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
