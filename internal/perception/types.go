package perception

// Detection is one entry of an analysis response. The list is replaced
// wholesale on every response; the client never merges detections across
// frames. Temporal identity, if any, lives in the service's tracker. Side
// is assigned server-side (center x below 0.33 of frame width is left,
// above 0.66 is right) and is treated as opaque text here.
type Detection struct {
	Class       string     `json:"class"`
	Confidence  float64    `json:"confidence"`
	BBox        [4]float64 `json:"bbox"`
	TrackID     int        `json:"track_id"`
	Distance    *float64   `json:"distance"`
	DistanceStr string     `json:"distance_str"`
	Side        string     `json:"side"`
}

// HealthStatus is the soft reachability probe result.
type HealthStatus struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// Analysis is the full per-frame result.
type Analysis struct {
	Detections     []Detection `json:"detections"`
	Caption        string      `json:"caption"`
	HasObjects     bool        `json:"has_objects"`
	KValue         *float64    `json:"K_value"`
	AnnotatedImage string      `json:"annotated_image"`
}

// Answer is the question-flow result.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Calibration is the result of a calibration write.
type Calibration struct {
	Success    bool    `json:"success"`
	K          float64 `json:"K"`
	BBoxHeight float64 `json:"bbox_height"`
	DistanceM  float64 `json:"distance_m"`
}

// CalibrationState is the persisted calibration read at session mount.
type CalibrationState struct {
	K            *float64 `json:"K"`
	IsCalibrated bool     `json:"is_calibrated"`
}

// OCRResult is the text-reader collaborator's response.
type OCRResult struct {
	Text      string   `json:"text"`
	LineCount int      `json:"line_count"`
	Languages []string `json:"languages"`
}
