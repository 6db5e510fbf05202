package interpreter

import (
	"strings"

	"github.com/auralis-labs/auralis-core/internal/nav"
)

// The rule table is evaluated top to bottom and the first match wins.
// Matching is case-insensitive substring containment, not word-boundary
// tokenization, so short keywords can over-match inside longer words; the
// ordering below is what resolves overlaps (for example "help" belongs to
// both the help rule and the emergency rule, and the help rule is ranked
// higher on purpose). Do not reorder without adjusting the priority tests.
type rule struct {
	keywords []string
	build    func(transcript string) Intent
}

var rules = []rule{
	{
		keywords: []string{"help", "commands", "what can you do", "how do i use"},
		build:    func(string) Intent { return Intent{Kind: KindHelp} },
	},
	{
		keywords: []string{"switch camera", "change camera", "flip camera", "other camera"},
		build:    func(string) Intent { return Intent{Kind: KindSwitchCamera} },
	},
	{
		keywords: []string{"stop", "cancel", "turn off"},
		build:    func(string) Intent { return Intent{Kind: KindStopCamera} },
	},
	{
		keywords: []string{"start camera", "open camera", "turn on", "describe", "surroundings", "look around", "what do you see"},
		build:    func(string) Intent { return Intent{Kind: KindStartCamera} },
	},
	{
		keywords: []string{"calibrate", "calibration", "measure distance"},
		build:    func(string) Intent { return Intent{Kind: KindCalibrate} },
	},
	{
		keywords: []string{"ask", "question", "tell me about"},
		build: func(t string) Intent {
			return Intent{Kind: KindAskQuestion, Question: extractQuestion(t)}
		},
	},
	{
		keywords: []string{"vision", "reader", "chat", "settings", "demo", "home", "exit", "quit"},
		build: func(t string) Intent {
			return Intent{Kind: KindNavigate, Target: pageTarget(t)}
		},
	},
	{
		keywords: []string{"emergency", "sos", "danger", "help me", "save me"},
		build:    func(string) Intent { return Intent{Kind: KindEmergency} },
	},
	{
		keywords: []string{"thank you", "thanks"},
		build:    func(string) Intent { return Intent{Kind: KindThanks} },
	},
	{
		keywords: []string{"who are you", "your name", "what are you"},
		build:    func(string) Intent { return Intent{Kind: KindIdentity} },
	},
	{
		keywords: []string{"time"},
		build:    func(string) Intent { return Intent{Kind: KindTellTime} },
	},
	{
		keywords: []string{"date", "what day", "today"},
		build:    func(string) Intent { return Intent{Kind: KindTellDate} },
	},
}

// Classify derives exactly one Intent from a transcript.
func Classify(transcript string) Intent {
	t := Normalize(transcript)
	if t == "" {
		return Intent{Kind: KindUnrecognized}
	}
	for _, r := range rules {
		if containsAny(t, r.keywords) {
			return r.build(t)
		}
	}
	return Intent{Kind: KindUnrecognized}
}

// Normalize lower-cases and trims a raw transcript.
func Normalize(transcript string) string {
	return strings.TrimSpace(strings.ToLower(transcript))
}

func containsAny(t string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// questionFillers are stripped from an ask-utterance to recover the embedded
// question. Longer phrases come first so their fragments do not survive.
var questionFillers = []string{
	"i have a question",
	"can you please",
	"could you please",
	"hey auralis",
	"can you",
	"could you",
	"auralis",
	"please",
	"question",
	"ask you",
	"ask",
}

func extractQuestion(t string) string {
	residual := t
	for _, f := range questionFillers {
		residual = strings.ReplaceAll(residual, f, " ")
	}
	return strings.TrimSpace(strings.Join(strings.Fields(residual), " "))
}

var pageKeywords = []struct {
	keyword string
	page    nav.Page
}{
	{"vision", nav.PageVision},
	{"reader", nav.PageTextReader},
	{"chat", nav.PageChat},
	{"settings", nav.PageSettings},
	{"demo", nav.PageDemo},
	{"home", nav.PageHome},
	{"exit", nav.PageExit},
	{"quit", nav.PageExit},
}

func pageTarget(t string) nav.Page {
	for _, pk := range pageKeywords {
		if strings.Contains(t, pk.keyword) {
			return pk.page
		}
	}
	return nav.PageHome
}
