package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Journal entry kinds. Each mirrors a bus subject.
const (
	KindTranscript  = "transcript"
	KindNavigation  = "navigation"
	KindEmergency   = "emergency"
	KindCalibration = "calibration"
)

// Recorder tails the bus and appends the interesting traffic to the store.
// Each runtime run is one journal session; the payload is stored as the
// raw bus message, already JSON.
type Recorder struct {
	store       *Store
	bus         *bus.Client
	logger      *slog.Logger
	runtimeName string
	sessionID   string
	ctx         context.Context
	cancel      context.CancelFunc
	subs        []*nats.Subscription
}

func NewRecorder(parent context.Context, store *Store, busClient *bus.Client, runtimeName string, logger *slog.Logger) *Recorder {
	ctx, cancel := context.WithCancel(parent)
	return &Recorder{
		store:       store,
		bus:         busClient,
		logger:      logger.With(slog.String("component", "journal")),
		runtimeName: runtimeName,
		sessionID:   uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SessionID returns the journal session for this runtime run.
func (r *Recorder) SessionID() string { return r.sessionID }

func (r *Recorder) Start() error {
	if err := r.store.BeginSession(r.ctx, r.sessionID, r.runtimeName); err != nil {
		return err
	}

	kinds := map[string]string{
		protocol.SubjectTranscriptFinal:  KindTranscript,
		protocol.SubjectNavigate:         KindNavigation,
		protocol.SubjectEmergency:        KindEmergency,
		protocol.SubjectCalibrationStart: KindCalibration,
	}
	for subject, kind := range kinds {
		kind := kind
		sub, err := r.bus.Conn().Subscribe(subject, func(msg *nats.Msg) {
			r.record(kind, msg.Data)
		})
		if err != nil {
			for _, prev := range r.subs {
				_ = prev.Drain()
			}
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Recorder) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Recorder) Healthy() bool { return len(r.subs) > 0 }

func (r *Recorder) record(kind string, payload []byte) {
	entry := Entry{
		SessionID: r.sessionID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Append(r.ctx, entry); err != nil && r.ctx.Err() == nil {
		r.logger.Warn("journal append failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()))
	}
}
