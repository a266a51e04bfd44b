package attachment

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(store ObjectStore) (*Pipeline, *MemoryPreviews, *clock.Manual) {
	previews := NewMemoryPreviews()
	clk := clock.NewManual(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewPipeline(store, previews, clk), previews, clk
}

func TestStage_OversizedRejectedBeforeReading(t *testing.T) {
	store := new(MockStore)
	p, previews, _ := newTestPipeline(store)
	r := &failingReader{}

	_, err := p.Stage("big.mp4", r, 12<<20)

	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, err, models.ErrPayloadTooLarge)
	assert.Contains(t, err.Error(), "12 MiB")
	assert.False(t, r.read)
	assert.Equal(t, 0, previews.Len())
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStage_LyingSizeStillCapped(t *testing.T) {
	p, _, _ := newTestPipeline(new(MockStore))
	data := bytes.Repeat([]byte{0}, 11<<20)

	_, err := p.Stage("x.bin", bytes.NewReader(data), 100)
	assert.ErrorIs(t, err, models.ErrPayloadTooLarge)
}

func TestStage_ImageCreatesPreviewReleasedOnce(t *testing.T) {
	p, previews, _ := newTestPipeline(new(MockStore))
	data := pngBytes(t, 40, 30)

	pa, err := p.Stage("cat.png", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, models.KindImage, pa.Kind)
	assert.Equal(t, "image/png", pa.MIME)
	assert.Equal(t, 1, previews.Len())

	_, mime, ok := previews.Get(pa.PreviewRef)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", mime)

	p.Discard(pa)
	p.Discard(pa)
	assert.True(t, pa.Released())
	assert.Nil(t, pa.Data())
	assert.Equal(t, 0, previews.Len())
}

func TestStage_UnsupportedType(t *testing.T) {
	p, _, _ := newTestPipeline(new(MockStore))
	text := "just some text"

	_, err := p.Stage("notes.txt", strings.NewReader(text), int64(len(text)))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = p.Stage("empty", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpload_NativeProgress(t *testing.T) {
	store := new(MockStore)
	p, _, _ := newTestPipeline(store)
	var seen []int
	progress := NewProgress(func(v int) { seen = append(seen, v) })

	store.On("ReportsProgress").Return(true)
	store.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasPrefix(k, "audio/") }),
		mock.Anything, mock.Anything, "audio/mpeg", mock.Anything).
		Run(func(args mock.Arguments) {
			fn := args.Get(5).(ProgressFunc)
			fn(50, 100)
			fn(100, 100)
		}).
		Return("http://cdn/audio/x.mp3", nil)

	data := append([]byte("ID3"), bytes.Repeat([]byte{0}, 64)...)
	url, err := p.Upload(context.Background(), models.KindAudio, data, "audio/mpeg", progress)
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/audio/x.mp3", url)
	assert.Equal(t, []int{50, 99, 100}, seen)
	store.AssertExpectations(t)
}

func TestUpload_SyntheticProgressStaysBelowHundred(t *testing.T) {
	store := new(MockStore)
	p, _, clk := newTestPipeline(store)
	progress := NewProgress(nil)

	store.On("ReportsProgress").Return(false)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.Nil(t, args.Get(5).(ProgressFunc))
			clk.Advance(time.Minute)
			assert.Equal(t, 90, progress.Value())
		}).
		Return("http://cdn/v.mp4", nil)

	_, err := p.Upload(context.Background(), models.KindVideo, []byte("\x00\x00\x00\x18ftypmp42"), "video/mp4", progress)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.Value())
	assert.Equal(t, 0, clk.Pending())
}

func TestUpload_CancelledAfterPutRemovesObject(t *testing.T) {
	store := new(MockStore)
	p, _, _ := newTestPipeline(store)
	ctx, cancel := context.WithCancel(context.Background())

	store.On("ReportsProgress").Return(true)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("http://cdn/x", nil)
	store.On("Delete", mock.Anything, mock.Anything).Return(nil)

	progress := NewProgress(nil)
	_, err := p.Upload(ctx, models.KindAudio, []byte("ID3xxxx"), "audio/mpeg", progress)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, progress.Value(), 100)
	store.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestUploadAndCommit_RejectedCommitRemovesObject(t *testing.T) {
	store := new(MockStore)
	p, _, _ := newTestPipeline(store)

	var key string
	store.On("ReportsProgress").Return(true)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { key = args.String(1) }).
		Return("http://cdn/x", nil)
	store.On("Delete", mock.Anything, mock.Anything).Return(nil)

	err := p.UploadAndCommit(context.Background(), models.KindAudio, []byte("ID3xxxx"), "audio/mpeg", nil,
		func(_ context.Context, url string) error {
			assert.Equal(t, "http://cdn/x", url)
			return context.Canceled
		})
	assert.ErrorIs(t, err, context.Canceled)
	store.AssertCalled(t, "Delete", mock.Anything, key)
}

func TestUploadAndCommit_KeepsObjectOnSuccess(t *testing.T) {
	store := new(MockStore)
	p, _, _ := newTestPipeline(store)

	store.On("ReportsProgress").Return(true)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("http://cdn/x", nil)

	var committed string
	err := p.UploadAndCommit(context.Background(), models.KindAudio, []byte("ID3xxxx"), "audio/mpeg", nil,
		func(_ context.Context, url string) error {
			committed = url
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/x", committed)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestUpload_StoreFailureIsTransport(t *testing.T) {
	store := new(MockStore)
	p, _, _ := newTestPipeline(store)

	store.On("ReportsProgress").Return(true)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", assert.AnError)

	_, err := p.Upload(context.Background(), models.KindAudio, []byte("ID3xxxx"), "audio/mpeg", nil)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestCompressImage_DownscalesLargeImages(t *testing.T) {
	data := pngBytes(t, 4000, 100)

	out, mime := CompressImage(data, "image/png")
	assert.Equal(t, "image/jpeg", mime)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 1920)
}

func TestCompressImage_PassesThroughUndecodable(t *testing.T) {
	data := []byte("GIF89a not really")
	out, mime := CompressImage(data, "image/gif")
	assert.Equal(t, data, out)
	assert.Equal(t, "image/gif", mime)

	out, mime = CompressImage([]byte("RIFFxxxxWEBP"), "image/webp")
	assert.Equal(t, "image/webp", mime)
	assert.Equal(t, []byte("RIFFxxxxWEBP"), out)
}
