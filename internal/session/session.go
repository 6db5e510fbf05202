// Package session runs the perception session for the vision page: it owns
// the camera stream, the periodic analysis loop and the question flow, and
// narrates results over the speech channel. The session is driven entirely
// by bus events; it holds no UI state beyond the current page.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/calib"
	"github.com/auralis-labs/auralis-core/internal/camera"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/nav"
	"github.com/auralis-labs/auralis-core/internal/perception"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// State is the perception session lifecycle.
type State int

const (
	// StateIdle means no camera is held and no analysis runs.
	StateIdle State = iota
	// StateStreaming means the camera is acquired and the periodic
	// analysis loop is ticking.
	StateStreaming
	// StateAnswering means the loop is paused while exactly one question
	// request is in flight. The camera stays acquired.
	StateAnswering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAnswering:
		return "answering"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Service is the perception session. All transitions run under one mutex;
// the analysis loop, question flow and calibration writes each hold their
// own single-flight guard so slow responses never stack requests.
type Service struct {
	cfg    config.SessionConfig
	bus    *bus.Client
	client *perception.Client
	store  *calib.Store
	source camera.Source
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription

	mu         sync.Mutex
	state      State
	page       nav.Page
	device     int
	stream     camera.Stream
	loopCancel context.CancelFunc
	inflight   bool
	degraded   bool
	detections []perception.Detection
	caption    string
	annotated  string

	interval time.Duration
	ticks    metric.Int64Counter
	skipped  metric.Int64Counter
}

func NewService(parent context.Context, cfg config.SessionConfig, busClient *bus.Client, client *perception.Client, store *calib.Store, source camera.Source, device int, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("auralis/session")
	ticks, _ := meter.Int64Counter("auralis.session.analysis_ticks",
		metric.WithDescription("Analysis requests issued by the periodic loop"))
	skipped, _ := meter.Int64Counter("auralis.session.skipped_ticks",
		metric.WithDescription("Loop ticks skipped because a request was still in flight"))
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		client:   client,
		store:    store,
		source:   source,
		logger:   logger.With(slog.String("component", "session")),
		ctx:      ctx,
		cancel:   cancel,
		page:     nav.Parse(cfg.StartPage),
		device:   device,
		interval: time.Duration(cfg.AnalysisIntervalMS) * time.Millisecond,
		ticks:    ticks,
		skipped:  skipped,
	}
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectCameraStart:      s.handleCameraStart,
		protocol.SubjectCameraStop:       s.handleCameraStop,
		protocol.SubjectCameraSwitch:     s.handleCameraSwitch,
		protocol.SubjectCalibrationStart: s.handleCalibration,
		protocol.SubjectQuestionSubmit:   s.handleQuestion,
		protocol.SubjectNavigate:         s.handleNavigate,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			for _, prev := range s.subs {
				_ = prev.Drain()
			}
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	if s.page == nav.PageVision {
		s.Mount(s.ctx)
	}
	return nil
}

// Close tears the session down. The camera is released on this path too.
func (s *Service) Close() {
	s.stopCamera()
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

// Mount runs the vision page's entry work: a soft reachability probe and
// the calibration read. Both failures are logged and swallowed; the page
// works degraded without them.
func (s *Service) Mount(ctx context.Context) {
	health, err := s.client.Health(ctx)
	if err != nil {
		s.logger.Warn("perception service unreachable", slogError(err))
	} else {
		s.logger.Info("perception service reachable",
			slog.String("status", health.Status),
			slog.String("device", health.Device))
	}
	if err := s.store.Load(ctx); err != nil {
		s.logger.Warn("calibration load failed", slogError(err))
	}
}

// CurrentState returns the session lifecycle state.
func (s *Service) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Detections returns a copy of the latest analysis detections.
func (s *Service) Detections() []perception.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]perception.Detection, len(s.detections))
	copy(out, s.detections)
	return out
}

// Caption returns the latest surfaced caption.
func (s *Service) Caption() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caption
}

// AnnotatedImage returns the latest annotated frame as served.
func (s *Service) AnnotatedImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotated
}

// Degraded reports whether any response so far carried a degraded-mode
// marker. The flag latches until the session restarts.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Service) handleCameraStart(*nats.Msg) {
	s.startCamera()
}

func (s *Service) handleCameraStop(*nats.Msg) {
	// The commanding side speaks the acknowledgment; teardown here is
	// always quiet.
	s.stopCamera()
}

func (s *Service) handleCameraSwitch(*nats.Msg) {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return
	}
	count := s.source.DeviceCount()
	if count > 0 {
		s.device = (s.device + 1) % count
	}
	s.mu.Unlock()

	s.stopCamera()
	s.startCamera()
}

// startCamera acquires the configured device and starts the analysis loop.
// Acquisition failure is terminal for the attempt: it is announced once and
// the session stays idle until the next explicit start.
func (s *Service) startCamera() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	device := s.device
	s.mu.Unlock()

	stream, err := s.source.Acquire(s.ctx, device)
	if err != nil {
		s.logger.Error("camera acquisition failed",
			slog.Int("device", device), slogError(err))
		s.speak("The camera is unavailable. Please check it is connected and allowed.")
		return
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.state = StateStreaming
	s.startLoopLocked()
	s.mu.Unlock()

	s.logger.Info("camera started", slog.Int("device", device))
}

// stopCamera cancels the loop, releases the stream and clears the read
// model. It is safe from any state and is the single release path.
func (s *Service) stopCamera() {
	s.mu.Lock()
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	stream := s.stream
	s.stream = nil
	wasIdle := s.state == StateIdle
	s.state = StateIdle
	s.detections = nil
	s.caption = ""
	s.annotated = ""
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("camera release failed", slogError(err))
		}
	}
	if !wasIdle {
		s.logger.Info("camera stopped")
	}
}

// startLoopLocked spawns the periodic loop. Caller holds s.mu.
func (s *Service) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(s.ctx)
	s.loopCancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(loopCtx)
	}()
}

// runLoop fires one analysis immediately, then on every interval tick until
// cancelled. Ticks that land while a request is still in flight are skipped,
// not queued.
func (s *Service) runLoop(ctx context.Context) {
	s.analyzeTick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.analyzeTick(ctx)
		}
	}
}

func (s *Service) analyzeTick(ctx context.Context) {
	s.mu.Lock()
	if s.inflight {
		s.mu.Unlock()
		s.skipped.Add(ctx, 1)
		return
	}
	if s.state != StateStreaming || s.stream == nil {
		s.mu.Unlock()
		return
	}
	s.inflight = true
	stream := s.stream
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}()

	s.ticks.Add(ctx, 1)

	frame, err := stream.Frame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("frame capture failed", slogError(err))
		}
		return
	}
	analysis, err := s.client.AnalyzeFrame(ctx, frame)
	if err != nil {
		// One failed tick is not fatal; the loop keeps going.
		if ctx.Err() == nil {
			s.logger.Warn("analysis tick failed", slogError(err))
		}
		return
	}

	caption := ResolveCaption(analysis)

	s.mu.Lock()
	s.detections = analysis.Detections
	s.caption = caption
	s.annotated = analysis.AnnotatedImage
	if IsDegraded(analysis.Caption) {
		s.degraded = true
	}
	narrate := s.state == StateStreaming
	s.mu.Unlock()

	s.store.Observe(analysis.KValue)

	if narrate {
		s.narrate(analysis.Detections, caption)
	}
}

// narrate announces one analysis response as a single utterance: one
// sentence per detection joined together, or the caption when nothing was
// detected. A single utterance keeps the newest-wins speech channel from
// clipping its own sentences mid-response.
func (s *Service) narrate(detections []perception.Detection, caption string) {
	if len(detections) == 0 {
		if caption != "" {
			s.speak(caption)
		}
		return
	}
	sentences := make([]string, 0, len(detections))
	for _, d := range detections {
		sentences = append(sentences, s.describe(d))
	}
	s.speak(strings.Join(sentences, " "))
}

// describe renders one detection as a spoken sentence. The service's
// distance string wins when present; otherwise the distance is derived from
// the cached calibration factor and the bounding-box height. Without
// either, the sentence omits distance rather than speaking a placeholder.
func (s *Service) describe(d perception.Detection) string {
	dist := d.DistanceStr
	if dist == "" || dist == DistancePlaceholder {
		if k, ok := s.store.K(); ok {
			if height := d.BBox[3] - d.BBox[1]; height > 0 {
				dist = FormatDistance(Distance(k, height))
			}
		}
	}
	if dist == "" || dist == DistancePlaceholder {
		return fmt.Sprintf("%s on your %s.", d.Class, d.Side)
	}
	return fmt.Sprintf("%s on your %s, %s away.", d.Class, d.Side, dist)
}

// handleQuestion pauses the periodic loop, runs exactly one question
// request and resumes when the request settles, on success and failure
// alike. The camera stays acquired throughout.
func (s *Service) handleQuestion(msg *nats.Msg) {
	var q protocol.Question
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		s.logger.Warn("failed to decode question", slogError(err))
		return
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		s.speak("Please say your question.")
		return
	}

	s.mu.Lock()
	if s.state != StateStreaming || s.stream == nil {
		s.mu.Unlock()
		s.speak("Start the camera first, then ask again.")
		return
	}
	s.state = StateAnswering
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	stream := s.stream
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.resumeAfterQuestion()

		frame, err := stream.Frame(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("question frame capture failed", slogError(err))
				s.speak("I could not capture a frame for your question.")
			}
			return
		}
		answer, err := s.client.Question(s.ctx, frame, text)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("question request failed", slogError(err))
				s.speak("I could not reach the vision service. Please try again.")
			}
			return
		}
		reply := strings.TrimSpace(answer.Answer)
		if reply == "" || IsDegraded(reply) {
			reply = "Question answering is unavailable right now."
		}
		s.speak(reply)
	}()
}

// resumeAfterQuestion restarts the periodic loop unless the camera was
// stopped while the question was in flight.
func (s *Service) resumeAfterQuestion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnswering {
		return
	}
	s.state = StateStreaming
	s.startLoopLocked()
}

// handleCalibration runs a one-shot calibration write. A command without a
// distance only opens the flow and prompts for one. Calibration is a side
// action: the session state is untouched and the loop keeps running.
func (s *Service) handleCalibration(msg *nats.Msg) {
	var cmd protocol.CalibrationCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode calibration command", slogError(err))
		return
	}
	if cmd.DistanceM <= 0 {
		s.speak("Calibration ready. Hold one object in view and tell me its distance in meters.")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		frame, err := s.captureFrame()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("calibration frame capture failed", slogError(err))
				s.speak("The camera is unavailable for calibration.")
			}
			return
		}
		k, err := s.store.Write(s.ctx, cmd.DistanceM, frame)
		if err != nil {
			s.speakCalibrationError(err)
			return
		}
		s.speak(fmt.Sprintf("Calibration complete. The factor is %.1f.", k))
	}()
}

func (s *Service) speakCalibrationError(err error) {
	if s.ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, calib.ErrWriteInFlight):
		s.speak("Calibration is already in progress.")
	case errors.Is(err, calib.ErrInvalidDistance):
		s.speak("The calibration distance must be a positive number.")
	default:
		s.logger.Warn("calibration failed", slogError(err))
		s.speak("Calibration failed. Please try again.")
	}
}

// captureFrame grabs one frame from the live stream, or acquires the
// camera just for the shot when no stream is open.
func (s *Service) captureFrame() (camera.Frame, error) {
	s.mu.Lock()
	stream := s.stream
	device := s.device
	s.mu.Unlock()

	if stream != nil {
		return stream.Frame(s.ctx)
	}
	oneshot, err := s.source.Acquire(s.ctx, device)
	if err != nil {
		return nil, err
	}
	defer oneshot.Close()
	return oneshot.Frame(s.ctx)
}

// handleNavigate tracks the current page. Leaving the vision page tears
// the camera down silently; arriving runs the mount work.
func (s *Service) handleNavigate(msg *nats.Msg) {
	var n protocol.Navigation
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		s.logger.Warn("failed to decode navigation", slogError(err))
		return
	}
	to := nav.Parse(n.To)

	s.mu.Lock()
	prev := s.page
	s.page = to
	s.mu.Unlock()

	if prev == to {
		return
	}
	if prev == nav.PageVision {
		s.stopCamera()
	}
	if to == nav.PageVision {
		s.Mount(s.ctx)
	}
}

func (s *Service) speak(text string) {
	if err := s.bus.PublishJSON(protocol.SubjectSpeak, protocol.Utterance{Text: text, Timestamp: time.Now().UTC()}); err != nil {
		s.logger.Warn("failed to publish utterance", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
