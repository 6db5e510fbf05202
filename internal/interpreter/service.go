package interpreter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/nav"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const helpText = "You can say: start camera, stop, switch camera, calibrate, " +
	"ask a question, read text, or navigate to vision, reader, chat, settings or home."

// Service consumes final transcripts from the bus, classifies them and
// performs the resulting side effects: navigation, bus commands and exactly
// one spoken acknowledgment per dispatched action.
//
// A single processing slot plus a cool-down window suppresses duplicate
// triggers when the recognizer reports one utterance twice. Overlapping
// transcripts are dropped, never queued.
type Service struct {
	cfg    config.InterpreterConfig
	bus    *bus.Client
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	processing       bool
	lastDone         time.Time
	page             nav.Page
	awaitingQuestion bool

	clock   func() time.Time
	intents metric.Int64Counter
}

func NewService(parent context.Context, cfg config.InterpreterConfig, busClient *bus.Client, startPage nav.Page, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("auralis/interpreter")
	intents, _ := meter.Int64Counter("auralis.interpreter.intents",
		metric.WithDescription("Transcripts classified, by intent kind"))
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		logger:  logger.With(slog.String("component", "interpreter")),
		ctx:     ctx,
		cancel:  cancel,
		page:    startPage,
		clock:   time.Now,
		intents: intents,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
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

// CurrentPage returns the page the interpreter believes is mounted.
func (s *Service) CurrentPage() nav.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	text := Normalize(transcript.Text)
	if text == "" {
		return
	}

	s.mu.Lock()
	now := s.clock()
	cooldown := time.Duration(s.cfg.CooldownMS) * time.Millisecond
	if s.processing || (!s.lastDone.IsZero() && now.Sub(s.lastDone) < cooldown) {
		s.mu.Unlock()
		s.logger.Debug("transcript dropped", slog.String("text", text))
		return
	}
	s.processing = true
	awaiting := s.awaitingQuestion
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.lastDone = s.clock()
		s.mu.Unlock()
	}()

	if awaiting {
		s.handleFollowUp(text)
		return
	}

	intent := Classify(text)
	s.intents.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", intent.Kind.String())))
	s.logger.Info("transcript classified",
		slog.String("text", text),
		slog.String("intent", intent.Kind.String()))
	s.dispatch(intent, text)
}

// handleFollowUp consumes the utterance after an empty ask request. A stop
// command abandons question-input mode; anything else becomes the question.
func (s *Service) handleFollowUp(text string) {
	s.mu.Lock()
	s.awaitingQuestion = false
	s.mu.Unlock()

	if it := Classify(text); it.Kind == KindStopCamera {
		s.speak("Cancelled.")
		return
	}
	s.publish(protocol.SubjectQuestionSubmit, protocol.Question{Text: text, Timestamp: s.clock()})
	s.speak("Let me look.")
}

func (s *Service) dispatch(intent Intent, text string) {
	switch intent.Kind {
	case KindHelp:
		s.speak(helpText)
	case KindSwitchCamera:
		s.publish(protocol.SubjectCameraSwitch, protocol.CameraCommand{Timestamp: s.clock()})
		s.speak("Switching camera.")
	case KindStopCamera:
		s.publish(protocol.SubjectCameraStop, protocol.CameraCommand{Timestamp: s.clock()})
		s.speak("Camera stopped.")
	case KindStartCamera:
		s.navigateThen(nav.PageVision, protocol.SubjectCameraStart, protocol.CameraCommand{Timestamp: s.clock()})
		s.speak("Starting camera.")
	case KindCalibrate:
		s.navigateThen(nav.PageVision, protocol.SubjectCalibrationStart,
			protocol.CalibrationCommand{Timestamp: s.clock()})
		s.speak("Opening calibration.")
	case KindAskQuestion:
		if intent.Question != "" {
			s.navigateThen(nav.PageVision, protocol.SubjectQuestionSubmit,
				protocol.Question{Text: intent.Question, Timestamp: s.clock()})
			s.speak("Let me look.")
			return
		}
		s.mu.Lock()
		s.awaitingQuestion = true
		s.mu.Unlock()
		s.publish(protocol.SubjectQAStart, protocol.Question{Timestamp: s.clock()})
		s.speak("What would you like to ask?")
	case KindNavigate:
		s.navigate(intent.Target)
		s.speak("Opening " + nav.Title(intent.Target) + ".")
	case KindEmergency:
		s.publish(protocol.SubjectEmergency, protocol.EmergencyAlert{Transcript: text, Timestamp: s.clock()})
		s.speak("Emergency alert raised. Stay calm, I am calling for help.")
	case KindThanks:
		s.speak("You're welcome.")
	case KindIdentity:
		s.speak("I am Auralis, your vision assistant.")
	case KindTellTime:
		s.speak("It is " + s.clock().Format("3:04 PM") + ".")
	case KindTellDate:
		s.speak("Today is " + s.clock().Format("Monday, January 2") + ".")
	case KindUnrecognized:
		// No action, no speech.
	}
}

// navigate switches the current page and announces it on the bus. Identity
// navigation is a no-op.
func (s *Service) navigate(target nav.Page) {
	s.mu.Lock()
	from := s.page
	to := nav.Route(from, target)
	if to == from {
		s.mu.Unlock()
		return
	}
	s.page = to
	s.mu.Unlock()
	s.publish(protocol.SubjectNavigate, protocol.Navigation{From: string(from), To: string(to), Timestamp: s.clock()})
}

// navigateThen delivers a startup event for a page-bound action. When the
// action requires leaving the current page, delivery waits for the mount
// delay so the target page's session is subscribed before the event lands.
func (s *Service) navigateThen(target nav.Page, subject string, payload any) {
	s.mu.Lock()
	onPage := s.page == target
	s.mu.Unlock()

	if onPage {
		s.publish(subject, payload)
		return
	}

	s.navigate(target)
	delay := time.Duration(s.cfg.MountDelayMS) * time.Millisecond
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		s.publish(subject, payload)
	}()
}

func (s *Service) publish(subject string, payload any) {
	if err := s.bus.PublishJSON(subject, payload); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) speak(text string) {
	s.publish(protocol.SubjectSpeak, protocol.Utterance{Text: text, Timestamp: s.clock()})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
