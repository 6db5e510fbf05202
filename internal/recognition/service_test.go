package recognition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus/bustest"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalResultsArePublishedNormalized(t *testing.T) {
	client := bustest.Connect(t)
	transcripts := make(chan protocol.Transcript, 8)
	sub, err := client.Conn().Subscribe(protocol.SubjectTranscriptFinal, func(msg *nats.Msg) {
		var tr protocol.Transcript
		if json.Unmarshal(msg.Data, &tr) == nil {
			transcripts <- tr
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Drain() })

	rec := NewMockRecognizer()
	rec.Enqueue(
		Result{Text: "  Stop The Camera ", Confidence: 0.9, Final: true},
		Result{Text: "partial...", Confidence: 0.4, Final: false},
	)

	cfg := config.RecognitionConfig{Enabled: true, Mode: "mock"}
	svc := NewService(context.Background(), cfg, client, rec, bustest.Logger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	select {
	case tr := <-transcripts:
		assert.Equal(t, "stop the camera", tr.Text)
		assert.InDelta(t, 0.9, tr.Confidence, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	// The non-final result never reaches the bus.
	select {
	case tr := <-transcripts:
		t.Fatalf("unexpected transcript: %q", tr.Text)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRunsRestartSilentlyWhileListening(t *testing.T) {
	client := bustest.Connect(t)
	rec := NewMockRecognizer()

	cfg := config.RecognitionConfig{Enabled: true, Mode: "mock"}
	svc := NewService(context.Background(), cfg, client, rec, bustest.Logger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	// Each mock run drains immediately, so staying in Listening must keep
	// spawning fresh runs.
	require.Eventually(t, func() bool { return rec.Runs() >= 3 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateListening, svc.State())
}

func TestExplicitToggleStopsRestarting(t *testing.T) {
	client := bustest.Connect(t)
	rec := NewMockRecognizer()

	cfg := config.RecognitionConfig{Enabled: true, Mode: "mock"}
	svc := NewService(context.Background(), cfg, client, rec, bustest.Logger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	require.Eventually(t, func() bool { return rec.Runs() >= 1 },
		2*time.Second, 10*time.Millisecond)

	svc.SetListening(false)
	assert.Equal(t, StateStopped, svc.State())

	time.Sleep(120 * time.Millisecond)
	frozen := rec.Runs()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, frozen, rec.Runs())
}

func TestSetListeningIsIdempotent(t *testing.T) {
	client := bustest.Connect(t)
	rec := NewMockRecognizer()

	cfg := config.RecognitionConfig{Enabled: true, Mode: "mock"}
	svc := NewService(context.Background(), cfg, client, rec, bustest.Logger())
	t.Cleanup(svc.Close)

	svc.SetListening(true)
	svc.SetListening(true)
	assert.Equal(t, StateListening, svc.State())
	svc.SetListening(false)
	svc.SetListening(false)
	assert.Equal(t, StateStopped, svc.State())
}

func TestRecognizerFromConfig(t *testing.T) {
	_, err := RecognizerFromConfig(config.RecognitionConfig{Mode: "mock"})
	require.NoError(t, err)
	_, err = RecognizerFromConfig(config.RecognitionConfig{Mode: "exec", Command: "asr --stream"})
	require.NoError(t, err)
	_, err = RecognizerFromConfig(config.RecognitionConfig{Mode: "telepathy"})
	require.Error(t, err)
}
