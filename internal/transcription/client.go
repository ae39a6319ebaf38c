package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olehkv/voice-notes-service/internal/audio"
)

// Client provides HTTP client functionality for the transcription engine
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Bounds concurrent engine requests

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint         string
	Model            string
	Language         string
	EngineSampleRate int // Rate used for the normalized retry
	Timeout          time.Duration
	MaxConcurrent    int
}

// Fragment is one transcribed utterance attributed to a speaker.
// Start and End are absolute capture times, rebased from the engine's
// segment-relative offsets.
type Fragment struct {
	Speaker uint64    `json:"speaker"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Text    string    `json:"text"`
}

// TranscriptionError reports a segment that could not be transcribed
// after all attempts. The caller substitutes placeholder text so the
// session transcript keeps its shape.
type TranscriptionError struct {
	Speaker  uint64
	Duration time.Duration
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed for speaker %d (%.1fs of audio): %v",
		e.Speaker, e.Duration.Seconds(), e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// engineResponse is the JSON body returned by the engine
type engineResponse struct {
	Text     string          `json:"text"`
	Language string          `json:"language,omitempty"`
	Segments []engineSegment `json:"segments,omitempty"`
}

// engineSegment is one utterance with offsets relative to the uploaded audio
type engineSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.EngineSampleRate <= 0 {
		config.EngineSampleRate = 16000
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  semaphore,
	}, nil
}

// Transcribe sends one speaker segment to the engine and returns the
// transcribed fragments with absolute timestamps. A failed first attempt
// is retried once with the audio resampled to the engine rate; a second
// failure returns a TranscriptionError. A segment the engine hears no
// speech in returns no fragments and no error.
func (c *Client) Transcribe(ctx context.Context, seg audio.Segment) ([]Fragment, error) {
	if seg.Empty() {
		return nil, nil
	}

	// Acquire semaphore to bound concurrent requests
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	resp, err := c.doRequest(ctx, seg)
	if err != nil {
		// Retry once with normalized audio at the engine rate
		c.incrementTotalRetries()
		normalized := audio.ResampleSegment(seg, c.config.EngineSampleRate)
		resp, err = c.doRequest(ctx, normalized)
	}

	if err != nil {
		c.incrementFailedRequests()
		return nil, &TranscriptionError{
			Speaker:  seg.Speaker,
			Duration: seg.Duration(),
			Err:      err,
		}
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return fragmentsFromResponse(seg, resp), nil
}

// fragmentsFromResponse rebases the engine's segment-relative offsets
// onto the segment's absolute capture time
func fragmentsFromResponse(seg audio.Segment, resp *engineResponse) []Fragment {
	if len(resp.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil
		}
		// Engine returned plain text without per-utterance timing
		return []Fragment{{
			Speaker: seg.Speaker,
			Start:   seg.Start,
			End:     seg.End,
			Text:    text,
		}}
	}

	fragments := make([]Fragment, 0, len(resp.Segments))
	for _, es := range resp.Segments {
		text := strings.TrimSpace(es.Text)
		if text == "" {
			continue
		}
		fragments = append(fragments, Fragment{
			Speaker: seg.Speaker,
			Start:   seg.Start.Add(time.Duration(es.Start * float64(time.Second))),
			End:     seg.Start.Add(time.Duration(es.End * float64(time.Second))),
			Text:    text,
		})
	}
	return fragments
}

// doRequest performs a single HTTP request to the transcription engine
func (c *Client) doRequest(ctx context.Context, seg audio.Segment) (*engineResponse, error) {
	body, contentType, err := c.createMultipartRequest(seg)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Voice-Notes-Service/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var engineResp engineResponse
	if err := json.Unmarshal(respBody, &engineResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &engineResp, nil
}

// createMultipartRequest builds the multipart/form-data body with the
// segment encoded as a WAV file
func (c *Client) createMultipartRequest(seg audio.Segment) (io.Reader, string, error) {
	wavData, err := audio.EncodeWAV(seg.PCM, seg.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode WAV: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := fmt.Sprintf("%s.wav", uuid.NewString())
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "json",
		"sample_rate":     fmt.Sprintf("%d", seg.SampleRate),
		"duration":        fmt.Sprintf("%.3f", seg.Duration().Seconds()),
		"speaker":         fmt.Sprintf("%d", seg.Speaker),
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	activeRequests := len(c.semaphore)

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  activeRequests,
	}
}

// Close gracefully shuts down the client, waiting for active requests
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
