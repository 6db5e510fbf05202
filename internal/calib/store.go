// Package calib caches the distance-calibration factor K. K is owned by
// the perception service (K = knownDistanceMeters x observedBoundingBoxHeight
// at calibration time); this store only reads, writes and formats it, never
// derives it locally.
package calib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auralis-labs/auralis-core/internal/perception"
)

// ErrWriteInFlight is returned when a calibration write is submitted while
// another one is still pending. Last write wins, but writes must not
// overlap.
var ErrWriteInFlight = errors.New("calibration write already in flight")

// ErrInvalidDistance rejects non-positive known distances before any
// network call.
var ErrInvalidDistance = errors.New("calibration distance must be a positive number")

type Store struct {
	client *perception.Client
	log    *slog.Logger

	mu      sync.Mutex
	k       *float64
	writing bool
}

func NewStore(client *perception.Client, log *slog.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With(slog.String("component", "calib-store")),
	}
}

// Load fetches the persisted K at session mount. A load failure leaves the
// store unset; distance display falls back to the placeholder.
func (s *Store) Load(ctx context.Context) error {
	state, err := s.client.CalibrationFactor(ctx)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.IsCalibrated && state.K != nil {
		s.k = state.K
		s.log.Info("calibration loaded", slog.Float64("k", *state.K))
	} else {
		s.k = nil
		s.log.Info("no calibration on record")
	}
	return nil
}

// K returns the cached factor and whether it is set.
func (s *Store) K() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.k == nil {
		return 0, false
	}
	return *s.k, true
}

// Observe refreshes the read model from a K value reported alongside an
// analysis response. A nil value is ignored; only Reset clears K.
func (s *Store) Observe(k *float64) {
	if k == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k = k
}

// Write performs one calibration against a known distance using the given
// frame. Concurrent writes are rejected; a failed write leaves the prior K
// untouched.
func (s *Store) Write(ctx context.Context, distanceM float64, frame []byte) (float64, error) {
	if distanceM <= 0 {
		return 0, ErrInvalidDistance
	}

	s.mu.Lock()
	if s.writing {
		s.mu.Unlock()
		return 0, ErrWriteInFlight
	}
	s.writing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
	}()

	result, err := s.client.Calibrate(ctx, frame, distanceM)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	k := result.K
	s.k = &k
	s.mu.Unlock()

	s.log.Info("calibration updated",
		slog.Float64("k", result.K),
		slog.Float64("bbox_height", result.BBoxHeight),
		slog.Float64("distance_m", distanceM))
	return result.K, nil
}

// Reset clears the persisted and cached K.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.ResetCalibration(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.k = nil
	s.mu.Unlock()
	s.log.Info("calibration reset")
	return nil
}

// Describe renders the current K for display.
func (s *Store) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.k == nil {
		return "not calibrated"
	}
	return fmt.Sprintf("K = %.1f", *s.k)
}
