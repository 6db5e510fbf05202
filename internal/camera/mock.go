package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// MockSource serves synthetic frames for tests and demo mode. It can be
// told to fail acquisition to exercise the camera-denied path.
type MockSource struct {
	mu       sync.Mutex
	devices  int
	failNext bool
	acquired int
	released int
	frame    []byte
}

func NewMockSource(devices int) *MockSource {
	if devices < 1 {
		devices = 1
	}
	return &MockSource{devices: devices, frame: encodeTestFrame()}
}

// FailNext makes the next Acquire return ErrUnavailable.
func (m *MockSource) FailNext() {
	m.mu.Lock()
	m.failNext = true
	m.mu.Unlock()
}

// OpenStreams reports acquired minus released streams.
func (m *MockSource) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired - m.released
}

func (m *MockSource) DeviceCount() int { return m.devices }

func (m *MockSource) Acquire(_ context.Context, device int) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return nil, ErrUnavailable
	}
	if device < 0 || device >= m.devices {
		return nil, ErrUnavailable
	}
	m.acquired++
	return &mockStream{source: m}, nil
}

type mockStream struct {
	mu     sync.Mutex
	source *MockSource
	closed bool
}

func (s *mockStream) Frame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.source.frame, nil
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.source.mu.Lock()
	s.source.released++
	s.source.mu.Unlock()
	return nil
}

func encodeTestFrame() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.Gray{Y: 128})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
