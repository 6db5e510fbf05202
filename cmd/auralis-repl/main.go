// Command auralis-repl types transcripts into a running runtime. Each line
// on stdin is published as a final transcript, exactly as the recognizer
// would deliver it, which makes the whole voice pipeline drivable from a
// keyboard.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

func main() {
	var server string
	flag.StringVar(&server, "server", nats.DefaultURL, "NATS server URL of the running runtime")
	flag.Parse()

	conn, err := nats.Connect(server, nats.Name("auralis-repl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", server, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Type what you would say. Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if text == "" {
			continue
		}
		transcript := protocol.Transcript{
			Text:       text,
			Confidence: 1,
			Timestamp:  time.Now().UTC(),
		}
		if err := publish(conn, transcript); err != nil {
			fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		os.Exit(1)
	}
}

func publish(conn *nats.Conn, transcript protocol.Transcript) error {
	data, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectTranscriptFinal, data); err != nil {
		return err
	}
	return conn.Flush()
}
