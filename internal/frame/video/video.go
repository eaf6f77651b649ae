// Package video grabs recognition frames from video files through OpenCV.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/verte-zerg/lprdesk/internal/frame"
)

var (
	// ErrNoFrame is returned when the capture has no frame at the current position.
	ErrNoFrame = errors.New("no frame at position")
	// ErrClosed is returned for frame reads after Close.
	ErrClosed = errors.New("video source closed")
)

// Source is a video file positioned at a playback offset.
type Source struct {
	mu       sync.Mutex
	path     string
	capture  *gocv.VideoCapture
	width    int
	height   int
	position time.Duration
	closed   bool
}

// Open opens path for frame grabbing at the given capture size.
func Open(path string, width, height int) (*Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	if width <= 0 {
		width = frame.DefaultWidth
	}
	if height <= 0 {
		height = frame.DefaultHeight
	}
	return &Source{path: path, capture: capture, width: width, height: height}, nil
}

func (s *Source) Name() string {
	return filepath.Base(s.path)
}

// Seek moves the displayed position. Negative offsets clamp to the start.
func (s *Source) Seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
}

// Position returns the displayed position.
func (s *Source) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Duration estimates the video length from frame count and rate.
func (s *Source) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	frames := s.capture.Get(gocv.VideoCaptureFrameCount)
	fps := s.capture.Get(gocv.VideoCaptureFPS)
	if frames <= 0 || fps <= 0 {
		return 0
	}
	return time.Duration(frames / fps * float64(time.Second))
}

// Frame grabs the frame at the current position, resized and JPEG encoded.
func (s *Source) Frame(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("%w: %s", ErrClosed, s.Name())
	}

	s.capture.Set(gocv.VideoCapturePosMsec, float64(s.position.Milliseconds()))
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return "", fmt.Errorf("%w: %s at %s", ErrNoFrame, s.Name(), s.position)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(s.width, s.height), 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, resized)
	if err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	return frame.DataURL("image/jpeg", buf.GetBytes()), nil
}

// Close releases the capture. Later calls are no-ops.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.capture.Close()
}
