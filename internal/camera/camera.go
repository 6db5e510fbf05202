// Package camera abstracts the platform camera capability. The runtime
// treats frame capture as an exclusive-acquire resource: a session acquires
// a stream, pulls encoded frames from it, and must release it on every exit
// path.
package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/auralis-labs/auralis-core/internal/config"
)

// ErrUnavailable indicates the camera could not be acquired (missing
// device, denied permission). Acquisition failure is terminal for the
// attempt; callers surface it once and stay idle.
var ErrUnavailable = errors.New("camera unavailable")

// Frame is one encoded image snapshot.
type Frame []byte

// Stream is an acquired camera. Close releases the underlying resource and
// must be called exactly once.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Source hands out streams. At most one stream per source should be open
// at a time; that discipline is the session's responsibility.
type Source interface {
	DeviceCount() int
	Acquire(ctx context.Context, device int) (Stream, error)
}

// FromConfig builds a source for the configured capture mode.
func FromConfig(cfg config.CameraConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSource(2), nil
	case "exec":
		return NewExecSource(cfg.Command)
	}
	return nil, fmt.Errorf("unknown camera mode %q", cfg.Mode)
}
