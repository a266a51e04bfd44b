package attachment

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
)

const previewDimension = 320

// DetectKind sniffs the content type and maps it onto an attachment kind.
func DetectKind(data []byte) (models.ContentKind, string, error) {
	mime := SniffMIME(data)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.KindImage, mime, nil
	case strings.HasPrefix(mime, "video/"):
		return models.KindVideo, mime, nil
	case strings.HasPrefix(mime, "audio/"):
		return models.KindAudio, mime, nil
	default:
		return "", mime, fmt.Errorf("%w: unsupported attachment type %s", models.ErrValidation, mime)
	}
}

// SniffMIME returns the detected content type without parameters.
func SniffMIME(data []byte) string {
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// extension returns the file extension for the sniffed type, including the dot.
func extension(data []byte) string {
	return mimetype.Detect(data).Extension()
}

// CompressImage downscales an image to config.MaxImageDimension and re-encodes it as JPEG.
// GIFs are passed through to keep animation; undecodable formats are returned unchanged.
func CompressImage(data []byte, mime string) ([]byte, string) {
	if mime == "image/gif" {
		return data, mime
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mime
	}
	img = resize.Thumbnail(config.MaxImageDimension, config.MaxImageDimension, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: config.ImageJPEGQuality}); err != nil {
		return data, mime
	}
	if buf.Len() >= len(data) && mime == "image/jpeg" {
		return data, mime
	}
	return buf.Bytes(), "image/jpeg"
}

// thumbnail renders a small JPEG preview. Non-images return ok=false.
func thumbnail(data []byte, mime string) ([]byte, bool) {
	if !strings.HasPrefix(mime, "image/") {
		return nil, false
	}
	var (
		img image.Image
		err error
	)
	if mime == "image/gif" {
		img, err = gif.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, false
	}
	img = resize.Thumbnail(previewDimension, previewDimension, img, resize.Bilinear)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
