package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Generation parameters sent with every request. Low temperature keeps
// summaries close to the transcript.
const (
	generateTemperature = 0.3
	generateTopP        = 0.9
)

// Client provides HTTP client functionality for the summarization engine
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	failedRequests  uint64
	degradedResults uint64

	mu sync.RWMutex
}

// Config contains summarization client configuration
type Config struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Result carries the outcome of a summarization call. Unavailable is set
// when the engine could not produce a summary after all retries; the
// caller keeps the raw transcript and degrades the note instead of
// failing the session.
type Result struct {
	Summary     string
	Unavailable bool
}

// ConfigError reports a request the engine rejected outright, such as an
// unknown model. Retrying cannot help, so the error surfaces immediately.
type ConfigError struct {
	Status  int
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("summarization engine rejected request (HTTP %d): %s", e.Status, e.Message)
}

// generateRequest is the engine's generation request body
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// generateResponse is the engine's generation response body
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64 `json:"total_requests"`
	FailedRequests  uint64 `json:"failed_requests"`
	DegradedResults uint64 `json:"degraded_results"`
}

// NewClient creates a new summarization HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 2
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Summarize produces a meeting summary for a merged channel transcript.
// Transient engine failures are retried with backoff; when all attempts
// fail the result is marked unavailable rather than returning an error.
// A ConfigError is returned immediately without retrying.
func (c *Client) Summarize(ctx context.Context, transcript, channelName string) (Result, error) {
	prompt := buildMeetingPrompt(channelName, transcript)
	return c.generateWithRetry(ctx, prompt)
}

// SummarizeSpeaker produces a short digest of one speaker's contributions
// and action items.
func (c *Client) SummarizeSpeaker(ctx context.Context, text, speakerName string) (Result, error) {
	prompt := buildSpeakerPrompt(speakerName, text)
	return c.generateWithRetry(ctx, prompt)
}

// CheckConnection verifies the engine is reachable and lists its models
func (c *Client) CheckConnection(ctx context.Context) error {
	url := strings.TrimSuffix(c.config.Endpoint, "/") + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("summarization engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("summarization engine returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// generateWithRetry runs the generation call with backoff between attempts
func (c *Client) generateWithRetry(ctx context.Context, prompt string) (Result, error) {
	c.incrementTotalRequests()

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.incrementDegradedResults()
				return Result{Unavailable: true}, nil
			}
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			return Result{Summary: text}, nil
		}

		c.incrementFailedRequests()

		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return Result{}, err
		}
	}

	c.incrementDegradedResults()
	return Result{Unavailable: true}, nil
}

// generate performs a single generation request
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: generateTemperature,
			TopP:        generateTopP,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.config.Endpoint, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &ConfigError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	text := strings.TrimSpace(genResp.Response)
	if text == "" {
		return "", fmt.Errorf("engine returned empty response")
	}

	return text, nil
}

// buildMeetingPrompt builds the generation prompt for a full meeting summary
func buildMeetingPrompt(channelName, transcript string) string {
	var b strings.Builder
	b.WriteString("You are a meeting assistant. Summarize the following voice channel discussion")
	if channelName != "" {
		fmt.Fprintf(&b, " from channel %q", channelName)
	}
	b.WriteString(".\n\n")
	b.WriteString("Focus on decisions made, action items, and key topics. ")
	b.WriteString("Keep the summary concise and factual. Do not invent content.\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nSummary:")
	return b.String()
}

// buildSpeakerPrompt builds the generation prompt for one speaker's digest
func buildSpeakerPrompt(speakerName, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the contributions and tasks of %s based on what they said in a meeting. ", speakerName)
	b.WriteString("List concrete commitments and topics they raised. Be brief.\n\n")
	b.WriteString("Their statements:\n")
	b.WriteString(text)
	b.WriteString("\n\nSummary:")
	return b.String()
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementDegradedResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degradedResults++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		DegradedResults: c.degradedResults,
	}
}
