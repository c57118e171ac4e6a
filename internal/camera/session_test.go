package camera

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"airbot/internal/domain"
)

type fakeStream struct {
	opener *fakeOpener
	device Device
	frame  string
}

func (s *fakeStream) Frame(ctx context.Context) (string, error) {
	if s.frame == "" {
		return "", errors.New("no frame")
	}
	return s.frame, nil
}

func (s *fakeStream) Stop() error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	delete(s.opener.active, s.device.ID)
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	devices []Device
	frames  map[string]string
	active  map[string]bool
	maxOpen int
}

func newFakeOpener(devices ...Device) *fakeOpener {
	return &fakeOpener{
		devices: devices,
		frames:  make(map[string]string),
		active:  make(map[string]bool),
	}
}

func (o *fakeOpener) Devices(ctx context.Context) ([]Device, error) {
	return o.devices, nil
}

func (o *fakeOpener) Open(ctx context.Context, device Device) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[device.ID] = true
	if len(o.active) > o.maxOpen {
		o.maxOpen = len(o.active)
	}
	return &fakeStream{opener: o, device: device, frame: o.frames[device.ID]}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenUsesFirstDevice(t *testing.T) {
	opener := newFakeOpener(Device{ID: "front"}, Device{ID: "back"})
	s := NewSession(opener, testLogger())

	dev, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if dev.ID != "front" {
		t.Errorf("device: got %q", dev.ID)
	}
	if !s.Active() {
		t.Error("session should be active")
	}
}

func TestOpenNoDevices(t *testing.T) {
	s := NewSession(newFakeOpener(), testLogger())
	if _, err := s.Open(context.Background()); !errors.Is(err, ErrNoDevices) {
		t.Errorf("got %v, want ErrNoDevices", err)
	}
}

func TestSwitchCyclesAndNeverHoldsTwo(t *testing.T) {
	opener := newFakeOpener(Device{ID: "a"}, Device{ID: "b"}, Device{ID: "c"})
	s := NewSession(opener, testLogger())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []string{"b", "c", "a", "b"}
	for _, id := range want {
		dev, err := s.Switch(context.Background())
		if err != nil {
			t.Fatalf("Switch: %v", err)
		}
		if dev.ID != id {
			t.Errorf("switch: got %q, want %q", dev.ID, id)
		}
	}
	if opener.maxOpen != 1 {
		t.Errorf("max concurrent streams: got %d, want 1", opener.maxOpen)
	}
}

func TestSwitchSingleDeviceReopensSame(t *testing.T) {
	opener := newFakeOpener(Device{ID: "only"})
	s := NewSession(opener, testLogger())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev, err := s.Switch(context.Background())
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if dev.ID != "only" {
		t.Errorf("device: got %q", dev.ID)
	}
}

func TestSwitchBeforeOpen(t *testing.T) {
	s := NewSession(newFakeOpener(Device{ID: "a"}), testLogger())
	if _, err := s.Switch(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}
}

func TestCaptureStripsDataURLPrefix(t *testing.T) {
	opener := newFakeOpener(Device{ID: "cam"})
	opener.frames["cam"] = "data:image/jpeg;base64,Zm9v"
	s := NewSession(opener, testLogger())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	img, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	want := domain.InlineImage{MIMEType: "image/jpeg", Data: "Zm9v"}
	if img != want {
		t.Errorf("image: got %+v", img)
	}
}

func TestCaptureFrameRequiresOpenSession(t *testing.T) {
	s := NewSession(newFakeOpener(Device{ID: "a"}), testLogger())
	if _, err := s.CaptureFrame("data:image/jpeg;base64,eA=="); !errors.Is(err, ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	opener := newFakeOpener(Device{ID: "a"})
	s := NewSession(opener, testLogger())
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.Active() {
		t.Error("session should be inactive after Close")
	}
	if len(opener.active) != 0 {
		t.Errorf("streams still active: %v", opener.active)
	}
}

func TestStripDataURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"data:image/jpeg;base64,abc", "abc"},
		{"data:image/png;base64,xyz", "xyz"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripDataURL(tc.in); got != tc.want {
			t.Errorf("StripDataURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
