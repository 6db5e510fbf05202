package interpreter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/auralis-labs/auralis-core/internal/bus"
	"github.com/auralis-labs/auralis-core/internal/bus/bustest"
	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/auralis-labs/auralis-core/internal/nav"
	"github.com/auralis-labs/auralis-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg config.InterpreterConfig, startPage nav.Page) (*Service, *bus.Client) {
	t.Helper()
	client := bustest.Connect(t)
	svc := NewService(context.Background(), cfg, client, startPage, bustest.Logger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	return svc, client
}

func capture(t *testing.T, client *bus.Client, subject string) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 16)
	sub, err := client.Conn().Subscribe(subject, func(msg *nats.Msg) { ch <- msg.Data })
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Drain() })
	return ch
}

func recvUtterance(t *testing.T, ch <-chan []byte) protocol.Utterance {
	t.Helper()
	var u protocol.Utterance
	recvJSON(t, ch, &u)
	return u
}

func recvJSON(t *testing.T, ch <-chan []byte, out any) {
	t.Helper()
	select {
	case data := <-ch:
		require.NoError(t, json.Unmarshal(data, out))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
	}
}

func expectNone(t *testing.T, ch <-chan []byte, wait time.Duration) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected bus message: %s", data)
	case <-time.After(wait):
	}
}

func say(t *testing.T, client *bus.Client, text string) {
	t.Helper()
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal,
		protocol.Transcript{Text: text, Timestamp: time.Now().UTC()}))
}

func TestStopCommandPublishesAndAcknowledges(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	_, client := newTestService(t, cfg, nav.PageVision)
	stops := capture(t, client, protocol.SubjectCameraStop)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "please stop the camera now")

	var cmd protocol.CameraCommand
	recvJSON(t, stops, &cmd)
	assert.Equal(t, "Camera stopped.", recvUtterance(t, utterances).Text)
}

func TestCooldownDropsDuplicateUtterance(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true, CooldownMS: 60000}
	_, client := newTestService(t, cfg, nav.PageVision)
	stops := capture(t, client, protocol.SubjectCameraStop)

	say(t, client, "stop")
	var cmd protocol.CameraCommand
	recvJSON(t, stops, &cmd)

	// The recognizer reporting the same utterance twice lands inside the
	// cool-down window and must not trigger a second stop.
	say(t, client, "stop")
	expectNone(t, stops, 200*time.Millisecond)
}

func TestAskWithoutQuestionOpensFollowUpMode(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	svc, client := newTestService(t, cfg, nav.PageVision)
	questions := capture(t, client, protocol.SubjectQuestionSubmit)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "ask")
	assert.Equal(t, "What would you like to ask?", recvUtterance(t, utterances).Text)

	say(t, client, "is the door open")
	var q protocol.Question
	recvJSON(t, questions, &q)
	assert.Equal(t, "is the door open", q.Text)
	assert.Equal(t, "Let me look.", recvUtterance(t, utterances).Text)

	svc.mu.Lock()
	awaiting := svc.awaitingQuestion
	svc.mu.Unlock()
	assert.False(t, awaiting)
}

func TestStopCancelsFollowUpMode(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	_, client := newTestService(t, cfg, nav.PageVision)
	questions := capture(t, client, protocol.SubjectQuestionSubmit)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "ask")
	assert.Equal(t, "What would you like to ask?", recvUtterance(t, utterances).Text)

	say(t, client, "cancel")
	assert.Equal(t, "Cancelled.", recvUtterance(t, utterances).Text)
	expectNone(t, questions, 200*time.Millisecond)
}

func TestNavigateAnnouncesPage(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	svc, client := newTestService(t, cfg, nav.PageHome)
	navs := capture(t, client, protocol.SubjectNavigate)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "go to settings")

	var n protocol.Navigation
	recvJSON(t, navs, &n)
	assert.Equal(t, "home", n.From)
	assert.Equal(t, "settings", n.To)
	assert.Equal(t, "Opening Settings.", recvUtterance(t, utterances).Text)
	assert.Equal(t, nav.PageSettings, svc.CurrentPage())
}

func TestStartCameraFromHomeNavigatesThenStarts(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true, MountDelayMS: 20}
	svc, client := newTestService(t, cfg, nav.PageHome)
	navs := capture(t, client, protocol.SubjectNavigate)
	starts := capture(t, client, protocol.SubjectCameraStart)

	say(t, client, "start camera")

	// Navigation lands first; the start command waits for the mount delay
	// so the vision page is subscribed before it arrives.
	var n protocol.Navigation
	recvJSON(t, navs, &n)
	assert.Equal(t, "vision", n.To)

	var cmd protocol.CameraCommand
	recvJSON(t, starts, &cmd)
	assert.Equal(t, nav.PageVision, svc.CurrentPage())
}

func TestStartCameraOnVisionPageSkipsNavigation(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true, MountDelayMS: 20}
	_, client := newTestService(t, cfg, nav.PageVision)
	navs := capture(t, client, protocol.SubjectNavigate)
	starts := capture(t, client, protocol.SubjectCameraStart)

	say(t, client, "start camera")

	var cmd protocol.CameraCommand
	recvJSON(t, starts, &cmd)
	expectNone(t, navs, 100*time.Millisecond)
}

func TestEmergencyRaisesAlert(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	_, client := newTestService(t, cfg, nav.PageHome)
	alerts := capture(t, client, protocol.SubjectEmergency)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "i am in danger")

	var alert protocol.EmergencyAlert
	recvJSON(t, alerts, &alert)
	assert.Equal(t, "i am in danger", alert.Transcript)
	assert.Contains(t, recvUtterance(t, utterances).Text, "Emergency alert raised")
}

func TestUnrecognizedStaysSilent(t *testing.T) {
	cfg := config.InterpreterConfig{Enabled: true}
	_, client := newTestService(t, cfg, nav.PageHome)
	utterances := capture(t, client, protocol.SubjectSpeak)

	say(t, client, "blue penguin sandwich")
	expectNone(t, utterances, 200*time.Millisecond)
}
