package speech

import (
	"context"
	"sync"
	"time"
)

// MockSynth records utterances for tests. Playback duration and the voice
// list are adjustable so cancel-then-speak and voice-retry behavior can be
// exercised.
type MockSynth struct {
	mu        sync.Mutex
	voices    []Voice
	duration  time.Duration
	spoken    []string
	cancelled int
}

func NewMockSynth() *MockSynth {
	return &MockSynth{
		voices: []Voice{{Name: "Aria", Locale: "en-US"}},
	}
}

// SetVoices replaces the available voice list.
func (m *MockSynth) SetVoices(voices []Voice) {
	m.mu.Lock()
	m.voices = voices
	m.mu.Unlock()
}

// SetDuration makes each utterance take d before completing.
func (m *MockSynth) SetDuration(d time.Duration) {
	m.mu.Lock()
	m.duration = d
	m.mu.Unlock()
}

// Spoken returns completed utterances in order.
func (m *MockSynth) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// Cancelled returns how many utterances were cut off.
func (m *MockSynth) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *MockSynth) Voices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out
}

func (m *MockSynth) Speak(ctx context.Context, text string, _ Voice) error {
	m.mu.Lock()
	d := m.duration
	m.mu.Unlock()

	if d > 0 {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled++
			m.mu.Unlock()
			return ctx.Err()
		case <-time.After(d):
		}
	}

	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()
	return nil
}
