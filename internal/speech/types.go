package speech

import "context"

// Voice is one available synthesis voice.
type Voice struct {
	Name   string
	Locale string
}

// Synthesizer is the contract for producing audible speech. Speak blocks
// until the utterance finishes or ctx is cancelled; cancellation must stop
// playback promptly. Voices may change over time (platform voice lists load
// asynchronously) and is re-read before every utterance.
type Synthesizer interface {
	Voices() []Voice
	Speak(ctx context.Context, text string, voice Voice) error
}
