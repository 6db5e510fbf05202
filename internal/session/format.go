package session

import "fmt"

// DistancePlaceholder is rendered when no calibration factor is set. It is
// shown, never spoken as a number.
const DistancePlaceholder = "?"

// Distance derives meters from the calibration factor and an observed
// bounding-box height in pixels.
func Distance(k, bboxHeightPx float64) float64 {
	return k / bboxHeightPx
}

// FormatDistance renders a distance for display and speech: centimeters
// below one meter, meters with one decimal otherwise.
func FormatDistance(d float64) string {
	if d < 1 {
		return fmt.Sprintf("%d cm", int(d*100))
	}
	return fmt.Sprintf("%.1f m", d)
}
