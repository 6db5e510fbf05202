package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service is the single-utterance speech output channel. A new utterance
// always cancels whatever is currently playing; announcements are never
// queued, the newest wins.
type Service struct {
	cfg    config.SpeechConfig
	bus    *bus.Client
	synth  Synthesizer
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription

	mu      sync.Mutex
	current context.CancelFunc
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, synth Synthesizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		logger: logger.With(slog.String("component", "speech")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SynthFromConfig builds the configured synthesizer backend.
func SynthFromConfig(cfg config.SpeechConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.DefaultLocale)
	}
	return nil, fmt.Errorf("unknown speech mode %q", cfg.Mode)
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeak, s.handleSay)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	subCancel, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechCancel, func(*nats.Msg) { s.Cancel() })
	if err != nil {
		sub.Drain()
		return err
	}
	s.subs = append(s.subs, subCancel)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleSay(msg *nats.Msg) {
	var utterance protocol.Utterance
	if err := json.Unmarshal(msg.Data, &utterance); err != nil {
		s.logger.Warn("failed to decode utterance", slogError(err))
		return
	}
	if strings.TrimSpace(utterance.Text) == "" {
		return
	}
	s.Speak(utterance.Text)
}

// Speak cancels any in-progress utterance and starts the new one.
func (s *Service) Speak(text string) {
	s.mu.Lock()
	if s.current != nil {
		s.current()
	}
	utterCtx, cancel := context.WithCancel(s.ctx)
	s.current = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		voice, err := s.resolveVoice(utterCtx)
		if err != nil {
			return
		}
		if err := s.synth.Speak(utterCtx, text, voice); err != nil && utterCtx.Err() == nil {
			s.logger.Warn("utterance failed", slogError(err))
		}
	}()
}

// Cancel silences the channel without starting anything new.
func (s *Service) Cancel() {
	s.mu.Lock()
	if s.current != nil {
		s.current()
		s.current = nil
	}
	s.mu.Unlock()
}

// resolveVoice re-reads the voice list and picks by preference: named
// preferences in order, then the first voice matching the default locale,
// then the first voice at all. While the list is empty it retries on a
// fixed delay instead of failing; platform voice lists load late.
func (s *Service) resolveVoice(ctx context.Context) (Voice, error) {
	retry := time.Duration(s.cfg.VoiceRetryMS) * time.Millisecond
	for {
		voices := s.synth.Voices()
		if len(voices) > 0 {
			return s.pickVoice(voices), nil
		}
		select {
		case <-ctx.Done():
			return Voice{}, ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (s *Service) pickVoice(voices []Voice) Voice {
	for _, pref := range s.cfg.VoicePrefs {
		for _, v := range voices {
			if strings.EqualFold(v.Name, pref) {
				return v
			}
		}
	}
	locale := s.cfg.DefaultLocale
	if locale != "" {
		for _, v := range voices {
			if strings.HasPrefix(strings.ToLower(v.Locale), strings.ToLower(locale)) {
				return v
			}
		}
	}
	return voices[0]
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
