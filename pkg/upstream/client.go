package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkallner/gemlink/pkg/api"
	"github.com/mkallner/gemlink/pkg/observability"
)

// apiVersion is the Code Assist API version segment.
const apiVersion = "v1internal"

// codeAssistMetadata is attached to discovery calls, matching what the
// Gemini CLI sends.
var codeAssistMetadata = map[string]string{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL   string        // default: https://cloudcode-pa.googleapis.com
	Timeout   time.Duration // non-streaming calls, default: 120s
	ProjectID string        // skips discovery when set
	Logger    *slog.Logger
}

// Client issues Code Assist API calls using bearer tokens from a Manager.
// A 401 response invalidates the token and retries the call exactly once.
type Client struct {
	cfg    ClientConfig
	auth   *Manager
	logger *slog.Logger

	// client carries the timeout for non-streaming calls; streamClient
	// shares its transport but relies on context cancellation instead,
	// since a generation stream can outlive any fixed timeout.
	client       *http.Client
	streamClient *http.Client

	mu        sync.Mutex
	projectID string
}

// NewClient creates a Client on top of the given auth manager.
func NewClient(cfg ClientConfig, auth *Manager) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://cloudcode-pa.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:          cfg,
		auth:         auth,
		logger:       cfg.Logger,
		client:       client,
		streamClient: &http.Client{Transport: client.Transport},
		projectID:    cfg.ProjectID,
	}
}

// do issues one bearer-authenticated POST to {base}/v1internal:{method}.
// On the first 401 it invalidates the token and retries once; a second
// 401 surfaces as an UpstreamError. The caller owns the response body.
func (c *Client) do(ctx context.Context, method string, body any, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewServerError("marshaling upstream request: " + err.Error())
	}

	url := c.cfg.BaseURL + "/" + apiVersion + ":" + method
	if stream {
		url += "?alt=sse"
	}

	for attempt := 0; ; attempt++ {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, api.NewServerError("building upstream request: " + err.Error())
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}

		httpClient := c.client
		if stream {
			httpClient = c.streamClient
		}
		start := time.Now()
		resp, err := httpClient.Do(req)
		if err != nil {
			observability.UpstreamRequestsTotal.WithLabelValues(method, "error").Inc()
			return nil, api.NewUpstreamError(http.StatusBadGateway, "upstream request failed: "+err.Error())
		}
		observability.UpstreamLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		observability.UpstreamRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drainBody(resp)
			c.logger.Warn("upstream returned 401, invalidating token and retrying", "method", method)
			c.auth.Invalidate(ctx)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := readErrorBody(resp)
			drainBody(resp)
			return nil, api.NewUpstreamError(resp.StatusCode,
				fmt.Sprintf("upstream %s returned status %d: %s", method, resp.StatusCode, msg))
		}

		return resp, nil
	}
}

// DiscoverProjectID returns the Code Assist project for the current
// credential. The result is memoized for the process lifetime; a
// configured project id bypasses discovery entirely.
func (c *Client) DiscoverProjectID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projectID != "" {
		return c.projectID, nil
	}

	body := map[string]any{"metadata": codeAssistMetadata}
	resp, err := c.do(ctx, "loadCodeAssist", body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", api.NewUpstreamError(http.StatusBadGateway, "parsing loadCodeAssist response: "+err.Error())
	}

	projectID := extractProjectID(result.CloudAICompanionProject)
	if projectID == "" {
		return "", api.NewUpstreamError(http.StatusBadGateway,
			"loadCodeAssist returned no project; configure upstream.project_id explicitly")
	}

	c.projectID = projectID
	c.logger.Info("discovered upstream project", "project_id", projectID)
	return projectID, nil
}

// extractProjectID reads the cloudaicompanionProject field, which arrives
// either as a plain string or as an object with an "id" field.
func extractProjectID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// GenerateResponse is the decoded body of a non-streaming generateContent
// call, unwrapped from the response envelope.
type GenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []framePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Text concatenates the non-thought text parts of the first candidate.
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		if !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// Generate performs a buffered generateContent call. Used by the one-shot
// connectivity test endpoint; completion traffic goes through StreamGenerate.
func (c *Client) Generate(ctx context.Context, payload any) (*GenerateResponse, error) {
	resp, err := c.do(ctx, "generateContent", payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Response *GenerateResponse `json:"response"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.NewUpstreamError(http.StatusBadGateway, "reading generateContent response: "+err.Error())
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Response != nil {
		return envelope.Response, nil
	}
	var bare GenerateResponse
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, api.NewUpstreamError(http.StatusBadGateway, "parsing generateContent response: "+err.Error())
	}
	return &bare, nil
}

// StreamGenerate opens a streaming generation call and returns a channel
// of decoded event frames. The channel is closed when the stream ends,
// errors, or the context is cancelled. Consuming the stream twice
// requires a new call.
func (c *Client) StreamGenerate(ctx context.Context, payload any) (<-chan EventFrame, error) {
	resp, err := c.do(ctx, "streamGenerateContent", payload, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan EventFrame, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseSSEStream(ctx, resp.Body, ch, c.logger)
	}()

	return ch, nil
}

// readErrorBody extracts a short error description from a non-2xx
// response. Upstream error bodies are truncated, never echoed wholesale.
func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil || len(data) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	// Google error bodies look like {"error": {"message": "..."}}.
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return truncate(parsed.Error.Message, 500)
	}
	return truncate(string(data), 500)
}

// drainBody discards and closes a response body so the connection can be
// reused.
func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
