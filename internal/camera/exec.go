package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSource shells out to a capture command for each frame. The command
// receives the device index as its last argument and writes one encoded
// image to stdout.
type execSource struct {
	cmd []string
}

func NewExecSource(command string) (Source, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse camera command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("camera command empty")
	}
	return &execSource{cmd: args}, nil
}

func (e *execSource) DeviceCount() int { return 2 }

func (e *execSource) Acquire(ctx context.Context, device int) (Stream, error) {
	stream := &execStream{cmd: e.cmd, device: device}
	// Probe once so acquisition failures surface here, not on the first tick.
	if _, err := stream.Frame(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stream, nil
}

type execStream struct {
	mu     sync.Mutex
	cmd    []string
	device int
	closed bool
}

func (s *execStream) Frame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrUnavailable
	}

	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	args = append(args, strconv.Itoa(s.device))

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("capture command produced no frame")
	}
	return stdout.Bytes(), nil
}

func (s *execStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
