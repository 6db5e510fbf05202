package session

import (
	"strings"

	"github.com/auralis-labs/auralis-core/internal/perception"
)

// NoObjectsCaption is spoken when neither the service nor the local
// fallback has anything to describe.
const NoObjectsCaption = "No obvious objects detected"

// degradedMarkers flag captions and answers produced by a perception
// service running without its models.
var degradedMarkers = []string{"not loaded", "unavailable"}

// IsDegraded reports whether text is a degraded-mode marker rather than a
// real caption or answer.
func IsDegraded(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range degradedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// SynthesizeCaption builds a caption from detected classes when the
// service's own captioner is unavailable. Classes are deduplicated in
// first-seen order.
func SynthesizeCaption(detections []perception.Detection) string {
	var classes []string
	seen := make(map[string]bool)
	for _, d := range detections {
		if d.Class == "" || seen[d.Class] {
			continue
		}
		seen[d.Class] = true
		classes = append(classes, d.Class)
	}
	if len(classes) == 0 {
		return NoObjectsCaption
	}
	return "I can see: " + strings.Join(classes, ", ") + "."
}

// ResolveCaption returns the caption to surface for an analysis response.
// Degraded markers are replaced by a locally synthesized caption; an empty
// caption stays empty, the service only captions on its own cadence.
func ResolveCaption(a *perception.Analysis) string {
	if a.Caption == "" {
		return ""
	}
	if IsDegraded(a.Caption) {
		return SynthesizeCaption(a.Detections)
	}
	return a.Caption
}
