package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auralis-labs/auralis-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.PerceptionConfig{
		Endpoint:         srv.URL,
		RequestTimeoutMS: 5000,
		Language:         "de",
	})
}

func TestAnalyzeFrameSendsMultipart(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze_frame", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))

		file, header, err := r.FormFile("frame")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "frame.jpg", header.Filename)
		assert.Equal(t, "de", r.FormValue("lang"))

		_ = json.NewEncoder(w).Encode(Analysis{
			Detections: []Detection{{Class: "chair", Side: "left", DistanceStr: "2.0 m"}},
			Caption:    "a chair by the wall",
			HasObjects: true,
		})
	})
	c := newClient(t, handler)

	analysis, err := c.AnalyzeFrame(context.Background(), []byte("jpegbytes"))
	require.NoError(t, err)
	require.Len(t, analysis.Detections, 1)
	assert.Equal(t, "chair", analysis.Detections[0].Class)
	assert.Equal(t, "a chair by the wall", analysis.Caption)
}

func TestQuestionSendsFrameAndText(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/question", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, "what is ahead", r.FormValue("question"))
		_ = json.NewEncoder(w).Encode(Answer{Question: "what is ahead", Answer: "a hallway"})
	})
	c := newClient(t, handler)

	answer, err := c.Question(context.Background(), []byte("jpegbytes"), "what is ahead")
	require.NoError(t, err)
	assert.Equal(t, "a hallway", answer.Answer)
}

func TestCalibrateSendsDistance(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calibrate", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, "2.5", r.FormValue("distance_m"))
		_ = json.NewEncoder(w).Encode(Calibration{Success: true, K: 1250, BBoxHeight: 500, DistanceM: 2.5})
	})
	c := newClient(t, handler)

	result, err := c.Calibrate(context.Background(), []byte("jpegbytes"), 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 1250, result.K, 0.001)
}

func TestServiceErrorIsSurfaced(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no frame provided"})
	})
	c := newClient(t, handler)

	_, err := c.AnalyzeFrame(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frame provided")
}

func TestOCRURLSendsFormField(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ocr_url", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, "https://example.com/page.png", r.FormValue("url"))
		_ = json.NewEncoder(w).Encode(OCRResult{Text: "hello world", LineCount: 1})
	})
	c := newClient(t, handler)

	result, err := c.OCRURL(context.Background(), "https://example.com/page.png")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, 1, result.LineCount)
}
