package recognition

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execRecognizer runs an external recognition command that writes one JSON
// object per line to stdout: {"text": "...", "confidence": 0.9,
// "final": true}. The run ends when the process exits.
type execRecognizer struct {
	cmd []string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

func NewExecRecognizer(command string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command empty")
	}
	return &execRecognizer{cmd: args}, nil
}

func (e *execRecognizer) Listen(ctx context.Context) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)

	go func() {
		defer close(results)
		defer close(errs)

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw execResult
			if err := json.Unmarshal(line, &raw); err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			select {
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			case results <- Result{Text: raw.Text, Confidence: raw.Confidence, Final: raw.Final}:
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()
	return results, errs
}
