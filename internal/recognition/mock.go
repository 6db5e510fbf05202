package recognition

import (
	"context"
	"sync"
)

// MockRecognizer replays scripted utterances, one run per Listen call.
// Each run drains the next batch from the script and then closes, which
// exercises the feed's restart edge.
type MockRecognizer struct {
	mu     sync.Mutex
	script [][]Result
	runs   int
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

// Enqueue schedules a batch of results for one future run.
func (m *MockRecognizer) Enqueue(batch ...Result) {
	m.mu.Lock()
	m.script = append(m.script, batch)
	m.mu.Unlock()
}

// Runs reports how many Listen runs have started.
func (m *MockRecognizer) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *MockRecognizer) Listen(ctx context.Context) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)

	m.mu.Lock()
	m.runs++
	var batch []Result
	if len(m.script) > 0 {
		batch = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(results)
		defer close(errs)
		for _, r := range batch {
			select {
			case <-ctx.Done():
				return
			case results <- r:
			}
		}
	}()
	return results, errs
}
