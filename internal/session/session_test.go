package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/bus/bustest"
	"github.com/auralis-labs/auralis-core/internal/calib"
	"github.com/auralis-labs/auralis-core/internal/camera"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/perception"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	svc        *Service
	client     *bus.Client
	source     *camera.MockSource
	store      *calib.Store
	utterances <-chan string
}

// newEnv wires a session against a fake perception server. The mux must
// not register /health or /get_calib_K; those are added here.
func newEnv(t *testing.T, mux *http.ServeMux, intervalMS int) *env {
	t.Helper()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.HealthStatus{Status: "ok", Device: "cpu"})
	})
	mux.HandleFunc("/get_calib_K", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.CalibrationState{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := bustest.Connect(t)
	pc := perception.NewClient(config.PerceptionConfig{
		Endpoint:         srv.URL,
		RequestTimeoutMS: 5000,
		Language:         "en",
	})
	store := calib.NewStore(pc, bustest.Logger())
	source := camera.NewMockSource(2)

	cfg := config.SessionConfig{AnalysisIntervalMS: intervalMS, StartPage: "vision"}
	svc := NewService(context.Background(), cfg, client, pc, store, source, 0, bustest.Logger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	utterances := make(chan string, 32)
	sub, err := client.Conn().Subscribe(protocol.SubjectSpeak, func(msg *nats.Msg) {
		var u protocol.Utterance
		if json.Unmarshal(msg.Data, &u) == nil {
			utterances <- u.Text
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Drain() })

	return &env{svc: svc, client: client, source: source, store: store, utterances: utterances}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (e *env) recvUtterance(t *testing.T) string {
	t.Helper()
	select {
	case text := <-e.utterances:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance")
		return ""
	}
}

func (e *env) expectSilence(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case text := <-e.utterances:
		t.Fatalf("unexpected utterance: %q", text)
	case <-time.After(wait):
	}
}

func msgJSON(t *testing.T, v any) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &nats.Msg{Data: data}
}

// silentAnalyze registers an /analyze_frame handler that counts requests
// and returns nothing to narrate.
func silentAnalyze(mux *http.ServeMux, delay time.Duration) *atomic.Int64 {
	var count atomic.Int64
	mux.HandleFunc("/analyze_frame", func(w http.ResponseWriter, _ *http.Request) {
		count.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		writeJSON(w, perception.Analysis{})
	})
	return &count
}

func TestStartCameraNarratesDetections(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze_frame", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.Analysis{
			Detections: []perception.Detection{
				{Class: "chair", Side: "left", DistanceStr: "2.0 m", BBox: [4]float64{0, 0, 40, 80}},
			},
			HasObjects: true,
		})
	})
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()

	assert.Equal(t, "chair on your left, 2.0 m away.", e.recvUtterance(t))
	assert.Equal(t, StateStreaming, e.svc.CurrentState())
	assert.Equal(t, 1, e.source.OpenStreams())
	assert.Len(t, e.svc.Detections(), 1)
}

func TestSlowAnalysisNeverStacksRequests(t *testing.T) {
	mux := http.NewServeMux()
	count := silentAnalyze(mux, 300*time.Millisecond)
	e := newEnv(t, mux, 20)

	e.svc.startCamera()
	time.Sleep(200 * time.Millisecond)

	// Ticks fired roughly ten times while the first request was still in
	// flight; every one of them must have been skipped.
	assert.Equal(t, int64(1), count.Load())
}

func TestDegradedCaptionFallsBackToLocalSummary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze_frame", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.Analysis{Caption: "Captioner not loaded"})
	})
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()

	assert.Equal(t, NoObjectsCaption, e.recvUtterance(t))
	assert.True(t, e.svc.Degraded())
}

func TestQuestionPausesLoopAndResumes(t *testing.T) {
	mux := http.NewServeMux()
	count := silentAnalyze(mux, 0)
	mux.HandleFunc("/question", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		writeJSON(w, perception.Answer{Question: "what is ahead", Answer: "a red door"})
	})
	e := newEnv(t, mux, 30)

	e.svc.startCamera()
	require.Eventually(t, func() bool { return count.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	e.svc.handleQuestion(msgJSON(t, protocol.Question{Text: "what is ahead"}))
	assert.Equal(t, StateAnswering, e.svc.CurrentState())

	// The periodic loop is paused for the whole answering window.
	frozen := count.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, frozen, count.Load())

	assert.Equal(t, "a red door", e.recvUtterance(t))
	assert.Equal(t, StateStreaming, e.svc.CurrentState())

	resumed := count.Load()
	require.Eventually(t, func() bool { return count.Load() > resumed }, 2*time.Second, 10*time.Millisecond)
}

func TestQuestionFailureStillResumes(t *testing.T) {
	mux := http.NewServeMux()
	count := silentAnalyze(mux, 0)
	mux.HandleFunc("/question", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{"error": "vqa blew up"})
	})
	e := newEnv(t, mux, 30)

	e.svc.startCamera()
	require.Eventually(t, func() bool { return count.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	e.svc.handleQuestion(msgJSON(t, protocol.Question{Text: "what is ahead"}))

	assert.Contains(t, e.recvUtterance(t), "could not reach")
	require.Eventually(t, func() bool { return e.svc.CurrentState() == StateStreaming },
		2*time.Second, 10*time.Millisecond)
}

func TestQuestionWithoutCameraIsRejected(t *testing.T) {
	mux := http.NewServeMux()
	e := newEnv(t, mux, 5000)

	e.svc.handleQuestion(msgJSON(t, protocol.Question{Text: "what is ahead"}))

	assert.Contains(t, e.recvUtterance(t), "Start the camera first")
	assert.Equal(t, StateIdle, e.svc.CurrentState())
}

func TestEmptyQuestionPromptsForOne(t *testing.T) {
	mux := http.NewServeMux()
	silentAnalyze(mux, 0)
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()
	e.svc.handleQuestion(msgJSON(t, protocol.Question{Text: "   "}))

	assert.Contains(t, e.recvUtterance(t), "Please say your question")
	assert.Equal(t, StateStreaming, e.svc.CurrentState())
}

func TestStopReleasesCamera(t *testing.T) {
	mux := http.NewServeMux()
	silentAnalyze(mux, 0)
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()
	require.Equal(t, 1, e.source.OpenStreams())

	e.svc.stopCamera()

	assert.Equal(t, 0, e.source.OpenStreams())
	assert.Equal(t, StateIdle, e.svc.CurrentState())
	assert.Empty(t, e.svc.Detections())
	assert.Empty(t, e.svc.Caption())
}

func TestNavigateAwayTearsDownSilently(t *testing.T) {
	mux := http.NewServeMux()
	silentAnalyze(mux, 0)
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()
	require.Equal(t, 1, e.source.OpenStreams())

	e.svc.handleNavigate(msgJSON(t, protocol.Navigation{From: "vision", To: "home"}))

	assert.Equal(t, 0, e.source.OpenStreams())
	assert.Equal(t, StateIdle, e.svc.CurrentState())
	e.expectSilence(t, 150*time.Millisecond)
}

func TestAcquisitionFailureAnnouncesAndStaysIdle(t *testing.T) {
	mux := http.NewServeMux()
	e := newEnv(t, mux, 5000)

	e.source.FailNext()
	e.svc.startCamera()

	assert.Contains(t, e.recvUtterance(t), "camera is unavailable")
	assert.Equal(t, StateIdle, e.svc.CurrentState())
	assert.Equal(t, 0, e.source.OpenStreams())
}

func TestSwitchCameraReacquiresNextDevice(t *testing.T) {
	mux := http.NewServeMux()
	silentAnalyze(mux, 0)
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()
	e.svc.handleCameraSwitch(nil)

	assert.Equal(t, StateStreaming, e.svc.CurrentState())
	assert.Equal(t, 1, e.source.OpenStreams())
	e.svc.mu.Lock()
	device := e.svc.device
	e.svc.mu.Unlock()
	assert.Equal(t, 1, device)
}

func TestCalibrationWriteSpeaksFactor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calibrate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.Calibration{Success: true, K: 1250, BBoxHeight: 625, DistanceM: 2})
	})
	e := newEnv(t, mux, 5000)

	e.svc.handleCalibration(msgJSON(t, protocol.CalibrationCommand{DistanceM: 2}))

	assert.Equal(t, "Calibration complete. The factor is 1250.0.", e.recvUtterance(t))
	k, ok := e.store.K()
	require.True(t, ok)
	assert.InDelta(t, 1250, k, 0.001)
}

func TestCalibrationWithoutDistanceOnlyPrompts(t *testing.T) {
	mux := http.NewServeMux()
	e := newEnv(t, mux, 5000)

	e.svc.handleCalibration(msgJSON(t, protocol.CalibrationCommand{}))

	assert.Contains(t, e.recvUtterance(t), "Calibration ready")
	_, ok := e.store.K()
	assert.False(t, ok)
}

func TestAnalysisObservesKAndDerivesDistance(t *testing.T) {
	k := 1250.0
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze_frame", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, perception.Analysis{
			Detections: []perception.Detection{
				{Class: "person", Side: "right", BBox: [4]float64{10, 0, 60, 100}},
			},
			KValue: &k,
		})
	})
	e := newEnv(t, mux, 5000)

	e.svc.startCamera()

	assert.Equal(t, "person on your right, 12.5 m away.", e.recvUtterance(t))
	got, ok := e.store.K()
	require.True(t, ok)
	assert.InDelta(t, 1250, got, 0.001)
}
