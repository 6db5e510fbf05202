package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth pipes utterances to an external speech command, one process per
// utterance, so cancelling the context kills playback immediately.
type execSynth struct {
	cmd    []string
	locale string
	mu     sync.Mutex
}

type execUtterance struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func NewExecSynth(command, locale string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	return &execSynth{cmd: args, locale: locale}, nil
}

// Voices reports one default voice for the configured locale. External
// commands manage their own voice inventories; name-level preferences only
// apply to platform synthesizers.
func (e *execSynth) Voices() []Voice {
	return []Voice{{Name: "default", Locale: e.locale}}
}

func (e *execSynth) Speak(ctx context.Context, text string, voice Voice) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execUtterance{Text: text, Voice: voice.Name})
	if err != nil {
		return err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write(payload); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
