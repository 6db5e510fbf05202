// Package perception is the HTTP client for the external perception
// service: object detection, scene captioning, visual Q&A, calibration and
// OCR. The service is opaque to the runtime; this package only moves frames
// out and structured results back.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/auralis-labs/auralis-core/internal/config"
)

type Client struct {
	base string
	lang string
	http *http.Client
}

func NewClient(cfg config.PerceptionConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return &Client{
		base: strings.TrimRight(cfg.Endpoint, "/"),
		lang: cfg.Language,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Health probes service reachability. Used once at session mount; failures
// are soft.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.getJSON(ctx, "/health", &out)
	return out, err
}

// AnalyzeFrame submits one encoded frame for detection and captioning.
func (c *Client) AnalyzeFrame(ctx context.Context, frame []byte) (*Analysis, error) {
	var out Analysis
	fields := map[string]string{"lang": c.lang}
	if err := c.postFrame(ctx, "/analyze_frame", frame, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Question submits one frame and one question to the answering flow.
func (c *Client) Question(ctx context.Context, frame []byte, question string) (*Answer, error) {
	var out Answer
	fields := map[string]string{"question": question}
	if err := c.postFrame(ctx, "/question", frame, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Calibrate submits one frame and a known distance; the service derives K
// from the tallest detected bounding box.
func (c *Client) Calibrate(ctx context.Context, frame []byte, distanceM float64) (*Calibration, error) {
	var out Calibration
	fields := map[string]string{"distance_m": strconv.FormatFloat(distanceM, 'f', -1, 64)}
	if err := c.postFrame(ctx, "/calibrate", frame, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CalibrationFactor reads the persisted K.
func (c *Client) CalibrationFactor(ctx context.Context) (CalibrationState, error) {
	var out CalibrationState
	err := c.getJSON(ctx, "/get_calib_K", &out)
	return out, err
}

// ResetCalibration clears the persisted K.
func (c *Client) ResetCalibration(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/reset_calib", nil)
	if err != nil {
		return err
	}
	var out CalibrationState
	return c.do(req, &out)
}

// OCR extracts text from one encoded frame.
func (c *Client) OCR(ctx context.Context, frame []byte) (*OCRResult, error) {
	var out OCRResult
	if err := c.postFrame(ctx, "/ocr", frame, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OCRURL extracts text from an image by URL.
func (c *Client) OCRURL(ctx context.Context, url string) (*OCRResult, error) {
	var out OCRResult
	if err := c.postForm(ctx, "/ocr_url", map[string]string{"url": url}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OCRPDF extracts text from a PDF by URL.
func (c *Client) OCRPDF(ctx context.Context, url string) (*OCRResult, error) {
	var out OCRResult
	if err := c.postForm(ctx, "/ocr_pdf", map[string]string{"url": url}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postFrame sends multipart/form-data with the frame as a file part plus
// optional text fields, matching the service's Flask-style file uploads.
func (c *Client) postFrame(ctx context.Context, path string, frame []byte, fields map[string]string, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(frame); err != nil {
		return err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, fields map[string]string, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

type serviceError struct {
	Error string `json:"error"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("perception service request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read perception response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var svcErr serviceError
		if json.Unmarshal(data, &svcErr) == nil && svcErr.Error != "" {
			return fmt.Errorf("perception service: %s", svcErr.Error)
		}
		return fmt.Errorf("perception service returned status %s", resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode perception response: %w", err)
	}
	return nil
}
