package protocol

import "time"

// Transcript is one recognized utterance, lower-cased and trimmed before
// publication. It is consumed once by the interpreter and discarded.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// CameraCommand drives the active perception session's camera.
type CameraCommand struct {
	SessionID string    `json:"session_id,omitempty"`
	Page      string    `json:"page,omitempty"`
	Silent    bool      `json:"silent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Question carries a user question into the answering flow. An empty Text
// only opens question-input mode; the session waits for a follow-up.
type Question struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CalibrationCommand requests a one-shot calibration against a known
// distance in meters.
type CalibrationCommand struct {
	SessionID string    `json:"session_id,omitempty"`
	DistanceM float64   `json:"distance_m"`
	Timestamp time.Time `json:"timestamp"`
}

// Navigation announces a page change. From and To are page identifiers.
type Navigation struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is a single text-to-speech request. The speech channel plays at
// most one utterance; a new one cancels whatever is in progress.
type Utterance struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "speech.transcript.final"
	SubjectCameraStart      = "cmd.camera.start"
	SubjectCameraStop       = "cmd.camera.stop"
	SubjectCameraSwitch     = "cmd.camera.switch"
	SubjectCalibrationStart = "cmd.calibration.start"
	SubjectQAStart          = "cmd.qa.start"
	SubjectQuestionSubmit   = "cmd.qa.question"
	SubjectOCRRequest       = "cmd.ocr.request"
	SubjectNavigate         = "nav.page"
	SubjectSpeak            = "speech.say"
	SubjectSpeechCancel     = "speech.cancel"
	SubjectEmergency        = "alert.emergency"
)

// EmergencyAlert is raised when the user asks for help urgently. The UI
// layer decides how to escalate; the core only records and acknowledges.
type EmergencyAlert struct {
	SessionID  string    `json:"session_id,omitempty"`
	Transcript string    `json:"transcript"`
	Timestamp  time.Time `json:"timestamp"`
}

// OCRCommand requests text extraction from the reader collaborator.
// Exactly one of URL or PDF is set for remote sources; otherwise the
// current camera frame is used.
type OCRCommand struct {
	SessionID string    `json:"session_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	PDF       string    `json:"pdf,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
