package camera

import (
	"context"
	"testing"

	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSourceAcquireAndRelease(t *testing.T) {
	src := NewMockSource(2)

	stream, err := src.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, src.OpenStreams())

	frame, err := stream.Frame(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, frame)

	require.NoError(t, stream.Close())
	assert.Equal(t, 0, src.OpenStreams())

	// Frames from a released stream fail; the session must re-acquire.
	_, err = stream.Frame(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockSourceFailNext(t *testing.T) {
	src := NewMockSource(1)
	src.FailNext()

	_, err := src.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	// Failure is one-shot.
	stream, err := src.Acquire(context.Background(), 0)
	require.NoError(t, err)
	_ = stream.Close()
}

func TestMockSourceUnknownDevice(t *testing.T) {
	src := NewMockSource(1)
	_, err := src.Acquire(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFromConfig(t *testing.T) {
	src, err := FromConfig(config.CameraConfig{Mode: "mock"})
	require.NoError(t, err)
	assert.Equal(t, 2, src.DeviceCount())

	_, err = FromConfig(config.CameraConfig{Mode: "hologram"})
	require.Error(t, err)
}
