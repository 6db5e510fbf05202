// Package textreader answers read-text requests by routing them to the
// perception service's OCR endpoints and speaking the result.
package textreader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/camera"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/perception"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service serves one extraction at a time. A request arriving while another
// is running is dropped with a spoken notice; OCR responses are slow and
// queuing them reads stale pages.
type Service struct {
	cfg    config.TextReaderConfig
	bus    *bus.Client
	client *perception.Client
	source camera.Source
	device int
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    *nats.Subscription

	mu       sync.Mutex
	inflight bool
}

func NewService(parent context.Context, cfg config.TextReaderConfig, busClient *bus.Client, client *perception.Client, source camera.Source, device int, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		client: client,
		source: source,
		device: device,
		logger: logger.With(slog.String("component", "textreader")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectOCRRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var cmd protocol.OCRCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode read request", slogError(err))
		return
	}

	s.mu.Lock()
	if s.inflight {
		s.mu.Unlock()
		s.speak("I am still reading. One moment.")
		return
	}
	s.inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.inflight = false
			s.mu.Unlock()
		}()
		s.extract(cmd)
	}()
}

func (s *Service) extract(cmd protocol.OCRCommand) {
	var (
		result *perception.OCRResult
		err    error
	)
	switch {
	case cmd.PDF != "":
		result, err = s.client.OCRPDF(s.ctx, cmd.PDF)
	case cmd.URL != "":
		result, err = s.client.OCRURL(s.ctx, cmd.URL)
	default:
		var frame camera.Frame
		frame, err = s.captureFrame()
		if err == nil {
			result, err = s.client.OCR(s.ctx, frame)
		}
	}
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("text extraction failed", slogError(err))
			s.speak("I could not read that. Please try again.")
		}
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		s.speak("I did not find any text.")
		return
	}
	s.logger.Info("text extracted",
		slog.Int("lines", result.LineCount),
		slog.Int("chars", len(text)))
	s.speak(fmt.Sprintf("Found %d lines. %s", result.LineCount, text))
}

func (s *Service) captureFrame() (camera.Frame, error) {
	stream, err := s.source.Acquire(s.ctx, s.device)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return stream.Frame(s.ctx)
}

func (s *Service) speak(text string) {
	if err := s.bus.PublishJSON(protocol.SubjectSpeak, protocol.Utterance{Text: text, Timestamp: time.Now().UTC()}); err != nil {
		s.logger.Warn("failed to publish utterance", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
