package recognition

import "context"

// Result is one recognized utterance from the continuous stream.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
}

// Recognizer abstracts a continuous speech-to-text capability. Listen
// starts one recognition run; both channels close when the run ends, which
// platforms do on their own after silence or errors. The feed service
// restarts runs while listening is toggled on.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan Result, <-chan error)
}
