package interpreter

import "github.com/auralis-labs/auralis-core/internal/nav"

// Kind enumerates the user goals derivable from one transcript.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindHelp
	KindSwitchCamera
	KindStopCamera
	KindStartCamera
	KindCalibrate
	KindAskQuestion
	KindNavigate
	KindEmergency
	KindThanks
	KindIdentity
	KindTellTime
	KindTellDate
)

func (k Kind) String() string {
	switch k {
	case KindHelp:
		return "help"
	case KindSwitchCamera:
		return "switch_camera"
	case KindStopCamera:
		return "stop_camera"
	case KindStartCamera:
		return "start_camera"
	case KindCalibrate:
		return "calibrate"
	case KindAskQuestion:
		return "ask_question"
	case KindNavigate:
		return "navigate"
	case KindEmergency:
		return "emergency"
	case KindThanks:
		return "thanks"
	case KindIdentity:
		return "identity"
	case KindTellTime:
		return "tell_time"
	case KindTellDate:
		return "tell_date"
	}
	return "unrecognized"
}

// Intent is the classified result of one transcript. Question is set only
// for KindAskQuestion and may be empty when the utterance carried no
// embedded question. Target is set only for KindNavigate.
type Intent struct {
	Kind     Kind
	Question string
	Target   nav.Page
}
