package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/protocol"
)

// State is the listening lifecycle of the feed.
type State int

const (
	StateStopped State = iota
	StateListening
)

// Service turns the continuous recognizer into a transcript feed on the
// bus. Only an explicit toggle stops listening: when a recognition run ends
// on its own (end-of-utterance or platform error) and the feed is still
// supposed to be listening, a new run starts silently.
type Service struct {
	cfg        config.RecognitionConfig
	bus        *bus.Client
	recognizer Recognizer
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	state     State
	runCancel context.CancelFunc
}

func NewService(parent context.Context, cfg config.RecognitionConfig, busClient *bus.Client, recognizer Recognizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "recognition")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RecognizerFromConfig builds the configured backend.
func RecognizerFromConfig(cfg config.RecognitionConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg.Command)
	}
	return nil, fmt.Errorf("unknown recognition mode %q", cfg.Mode)
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.SetListening(true)
	return nil
}

func (s *Service) Close() {
	s.SetListening(false)
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return true }

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetListening is the explicit user toggle.
func (s *Service) SetListening(on bool) {
	s.mu.Lock()
	if on == (s.state == StateListening) {
		s.mu.Unlock()
		return
	}
	if !on {
		s.state = StateStopped
		if s.runCancel != nil {
			s.runCancel()
			s.runCancel = nil
		}
		s.mu.Unlock()
		s.logger.Info("listening stopped")
		return
	}
	s.state = StateListening
	runCtx, runCancel := context.WithCancel(s.ctx)
	s.runCancel = runCancel
	s.mu.Unlock()

	s.logger.Info("listening started")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(runCtx)
	}()
}

// runLoop restarts recognition runs until listening is toggled off.
func (s *Service) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.State() != StateListening {
			return
		}
		s.consumeRun(ctx)
		if ctx.Err() != nil || s.State() != StateListening {
			return
		}
		s.logger.Debug("recognizer run ended, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Service) consumeRun(ctx context.Context) {
	results, errs := s.recognizer.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				results = nil
				break
			}
			if r.Final {
				s.publish(r)
			}
		case err, ok := <-errs:
			if ok && err != nil && ctx.Err() == nil {
				s.logger.Warn("recognizer error", slog.String("error", err.Error()))
			}
			errs = nil
		}
		if results == nil && errs == nil {
			return
		}
	}
}

func (s *Service) publish(r Result) {
	text := strings.TrimSpace(strings.ToLower(r.Text))
	if text == "" {
		return
	}
	transcript := protocol.Transcript{
		Text:       text,
		Confidence: r.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, transcript); err != nil {
		s.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}
