// ABOUTME: HTTP client for the Bambu Cloud API.
// ABOUTME: Covers login with 2FA, device status, cloud files, and print tasks.

package bambu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths on the cloud API.
const (
	loginPath         = "/v1/user-service/user/login"
	sendCodePath      = "/v1/user-service/user/sendemail/code"
	tfaPath           = "/v1/user-service/user/tfa"
	userPrintPath     = "/v1/iot-service/api/user/print"
	userBindPath      = "/v1/iot-service/api/user/bind"
	userProjectPath   = "/v1/iot-service/api/user/project"
	userTaskPath      = "/v1/iot-service/api/user/task"
	slicerSettingPath = "/v1/iot-service/api/slicer/setting"
)

// maxResponseBody caps how much of a cloud response is read.
const maxResponseBody = 8 << 20

// defaultTimeout bounds every cloud call.
const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the cloud API. It propagates to the
// caller as-is: a 401 here may mean the cached token expired, and the
// decision to invalidate and retry belongs to the operator, not this client.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bambu %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// ClientConfig configures the cloud client.
type ClientConfig struct {
	// BaseURL of the cloud API, without a trailing slash.
	BaseURL string

	// UserAgent sent on every request.
	UserAgent string

	// HTTPClient overrides the default 30s-timeout client, mainly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the Bambu Cloud API. Device and file operations take the
// bearer token explicitly so the gate-then-call sequence stays visible at
// the call site.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a cloud client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "bambu-gateway"
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger.With("component", "bambu"),
	}
}

// doJSON performs one request and returns the raw response body. The token
// is optional; when set it is sent as a bearer credential.
func (c *Client) doJSON(ctx context.Context, op, method, path, token string, query url.Values, body any) (json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    apiMessage(data),
		}
	}

	c.logger.Debug("cloud call completed", "op", op, "status", resp.StatusCode)
	return json.RawMessage(data), nil
}

// apiMessage pulls a human-readable message out of an error body. The cloud
// answers with {"message": ..., "error": ...} on most failures; anything
// else is passed through as a trimmed snippet.
func apiMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" && envelope.Message != "success" {
			return envelope.Message
		}
	}

	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if snippet == "" {
		snippet = "no response body"
	}
	return snippet
}
