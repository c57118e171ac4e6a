package camera

import (
	"context"
	"errors"
)

// ErrClientFrames is returned by static streams when asked for a frame
// the server cannot produce itself.
var ErrClientFrames = errors.New("frames are supplied by the client")

// StaticOpener serves a fixed device list where the client, not the
// server, runs the hardware. Its streams carry no frames of their own;
// pair it with Session.CaptureFrame.
type StaticOpener struct {
	devices []Device
}

func NewStaticOpener(devices []Device) *StaticOpener {
	return &StaticOpener{devices: devices}
}

func (o *StaticOpener) Devices(ctx context.Context) ([]Device, error) {
	return o.devices, nil
}

func (o *StaticOpener) Open(ctx context.Context, device Device) (Stream, error) {
	return staticStream{}, nil
}

type staticStream struct{}

func (staticStream) Frame(ctx context.Context) (string, error) { return "", ErrClientFrames }
func (staticStream) Stop() error                               { return nil }
