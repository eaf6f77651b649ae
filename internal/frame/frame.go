// Package frame produces the encoded still images sent for recognition and training.
package frame

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Default capture size of a recognition frame.
const (
	DefaultWidth  = 640
	DefaultHeight = 360
)

const jpegQuality = 90

// ErrUnsupportedImage is returned for files that do not decode as an image.
var ErrUnsupportedImage = errors.New("unsupported image")

// Source yields the currently displayed frame as a data URL.
type Source interface {
	Frame(ctx context.Context) (string, error)
	Name() string
}

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// DataURL wraps raw image bytes in a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// EncodeJPEG encodes img as a JPEG data URL.
func EncodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}
	return DataURL("image/jpeg", buf.Bytes()), nil
}

// ReadDataURL returns the file as a data URL with its detected MIME type.
// The file content is passed through unchanged once it is known to decode.
func ReadDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, filepath.Base(path), err)
	}
	mime, ok := mimeByFormat[format]
	if !ok {
		return "", fmt.Errorf("%w: %s: format %s", ErrUnsupportedImage, filepath.Base(path), format)
	}
	return DataURL(mime, data), nil
}

// Decode reads and decodes an image file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, filepath.Base(path), err)
	}
	return img, nil
}

// Scale stretches img to width x height.
func Scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FileSource serves a still image file as the displayed frame.
type FileSource struct {
	path   string
	width  int
	height int
}

// NewFileSource returns a source for path scaled to the given size.
// Non-positive sizes fall back to the defaults.
func NewFileSource(path string, width, height int) *FileSource {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &FileSource{path: path, width: width, height: height}
}

func (s *FileSource) Name() string {
	return filepath.Base(s.path)
}

// Frame decodes, scales and encodes the file.
func (s *FileSource) Frame(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := Decode(s.path)
	if err != nil {
		return "", err
	}
	return EncodeJPEG(Scale(img, s.width, s.height))
}
