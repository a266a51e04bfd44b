package attachment

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress ProgressFunc) (string, error) {
	args := m.Called(ctx, key, r, size, contentType, progress)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStore) ReportsProgress() bool {
	args := m.Called()
	return args.Bool(0)
}

// failingReader fails the test if anything reads from it.
type failingReader struct{ read bool }

func (f *failingReader) Read([]byte) (int, error) {
	f.read = true
	return 0, io.EOF
}
