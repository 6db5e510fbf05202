// Package runtime assembles the assistive client core: the embedded bus,
// the perception session and its collaborators, and the operational HTTP
// surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/calib"
	"github.com/auralis-labs/auralis-core/internal/camera"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/interpreter"
	"github.com/auralis-labs/auralis-core/internal/journal"
	"github.com/auralis-labs/auralis-core/internal/natsserver"
	"github.com/auralis-labs/auralis-core/internal/nav"
	"github.com/auralis-labs/auralis-core/internal/perception"
	"github.com/auralis-labs/auralis-core/internal/recognition"
	"github.com/auralis-labs/auralis-core/internal/session"
	"github.com/auralis-labs/auralis-core/internal/speech"
	"github.com/auralis-labs/auralis-core/internal/textreader"
)

// service is the shared lifecycle every component implements.
type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *journal.Store
	calibStore  *calib.Store
	interp      *interpreter.Service
	perceptSess *session.Service
	services    []service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up, blocks until ctx is cancelled and then
// shuts everything down in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.closeComponents()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/state", r.handleState)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.closeComponents()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.busClient = busClient

	perceptClient := perception.NewClient(r.cfg.Perception)
	r.calibStore = calib.NewStore(perceptClient, r.logger)

	source, err := camera.FromConfig(r.cfg.Camera)
	if err != nil {
		return fmt.Errorf("build camera source: %w", err)
	}

	synth, err := speech.SynthFromConfig(r.cfg.Speech)
	if err != nil {
		return fmt.Errorf("build speech synthesizer: %w", err)
	}
	recognizer, err := recognition.RecognizerFromConfig(r.cfg.Recognition)
	if err != nil {
		return fmt.Errorf("build recognizer: %w", err)
	}

	journalStore, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.store = journalStore

	startPage := nav.Parse(r.cfg.Session.StartPage)
	r.interp = interpreter.NewService(ctx, r.cfg.Interpreter, busClient, startPage, r.logger)
	r.perceptSess = session.NewService(ctx, r.cfg.Session, busClient, perceptClient, r.calibStore, source, r.cfg.Camera.Device, r.logger)

	r.services = []service{
		speech.NewService(ctx, r.cfg.Speech, busClient, synth, r.logger),
		r.perceptSess,
		textreader.NewService(ctx, r.cfg.TextReader, busClient, perceptClient, source, r.cfg.Camera.Device, r.logger),
		r.interp,
		journal.NewRecorder(ctx, journalStore, busClient, r.cfg.RuntimeName, r.logger),
		recognition.NewService(ctx, r.cfg.Recognition, busClient, recognizer, r.logger),
	}
	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start component: %w", err)
		}
	}
	return nil
}

func (r *Runtime) closeComponents() {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.services = nil
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleState exposes a read-only snapshot of the assistive state for
// debugging and for thin UI shells polling the core.
func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	if r.perceptSess == nil || r.interp == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	snapshot := map[string]any{
		"page":        string(r.interp.CurrentPage()),
		"session":     r.perceptSess.CurrentState().String(),
		"caption":     r.perceptSess.Caption(),
		"detections":  r.perceptSess.Detections(),
		"calibration": r.calibStore.Describe(),
		"degraded":    r.perceptSess.Degraded(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}
