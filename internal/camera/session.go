// Package camera tracks an exclusive capture stream per chat session.
// The browser owns the actual hardware; this keeps the switching and
// lifecycle rules in one testable place.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"airbot/internal/domain"
)

var (
	ErrNoDevices = errors.New("no camera devices available")
	ErrNotOpen   = errors.New("camera is not open")
)

// Device identifies one attached camera.
type Device struct {
	ID    string
	Label string
}

// Stream is one live capture stream. Frame returns a JPEG data URL or the
// raw base64 payload, whichever the device produces.
type Stream interface {
	Frame(ctx context.Context) (string, error)
	Stop() error
}

// Opener acquires a stream for a given device.
type Opener interface {
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, device Device) (Stream, error)
}

// Session holds at most one open stream. Switching always stops the
// current stream before acquiring the next so the device is never held
// twice.
type Session struct {
	mu      sync.Mutex
	opener  Opener
	logger  *slog.Logger
	devices []Device
	index   int
	stream  Stream
}

func NewSession(opener Opener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opener: opener, logger: logger}
}

// Open enumerates devices and starts a stream on the first one. Opening
// an already-open session restarts it on the current device.
func (s *Session) Open(ctx context.Context) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.opener.Devices(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}
	s.devices = devices
	if s.index >= len(devices) {
		s.index = 0
	}
	if err := s.acquireLocked(ctx); err != nil {
		return Device{}, err
	}
	return s.devices[s.index], nil
}

// Switch advances to the next device, wrapping around. With a single
// device it reopens the same one.
func (s *Session) Switch(ctx context.Context) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return Device{}, ErrNotOpen
	}
	s.index = (s.index + 1) % len(s.devices)
	if err := s.acquireLocked(ctx); err != nil {
		return Device{}, err
	}
	return s.devices[s.index], nil
}

// acquireLocked stops any live stream first, then opens the device at the
// current index. Caller holds s.mu.
func (s *Session) acquireLocked(ctx context.Context) error {
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.logger.Warn("stop stream", "error", err)
		}
		s.stream = nil
	}
	stream, err := s.opener.Open(ctx, s.devices[s.index])
	if err != nil {
		return fmt.Errorf("open %s: %w", s.devices[s.index].ID, err)
	}
	s.stream = stream
	return nil
}

// Capture grabs one frame and returns it as an inline JPEG with any data
// URL prefix stripped.
func (s *Session) Capture(ctx context.Context) (domain.InlineImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return domain.InlineImage{}, ErrNotOpen
	}
	frame, err := s.stream.Frame(ctx)
	if err != nil {
		return domain.InlineImage{}, fmt.Errorf("capture frame: %w", err)
	}
	return domain.InlineImage{MIMEType: "image/jpeg", Data: StripDataURL(frame)}, nil
}

// CaptureFrame accepts a frame produced outside the stream, typically a
// canvas snapshot posted by a browser client, and packages it the same
// way Capture does. The session must still be open.
func (s *Session) CaptureFrame(frame string) (domain.InlineImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return domain.InlineImage{}, ErrNotOpen
	}
	if frame == "" {
		return domain.InlineImage{}, errors.New("empty frame")
	}
	return domain.InlineImage{MIMEType: "image/jpeg", Data: StripDataURL(frame)}, nil
}

// Close stops the stream, if any. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	err := s.stream.Stop()
	s.stream = nil
	return err
}

// Active reports whether a stream is currently open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// StripDataURL removes a leading "data:...;base64," prefix, leaving the
// raw base64 payload. Input without a prefix comes back unchanged.
func StripDataURL(frame string) string {
	if i := strings.Index(frame, ";base64,"); i >= 0 && strings.HasPrefix(frame, "data:") {
		return frame[i+len(";base64,"):]
	}
	return frame
}
