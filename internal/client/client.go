// Package client talks to the plate-recognition and training service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/verte-zerg/lprdesk/internal/model"
)

// DefaultBaseURL is used when no service URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// ErrInvalidResponse marks a response body that could not be decoded.
var ErrInvalidResponse = errors.New("invalid service response")

// TransportError reports a request that never produced a usable response:
// dial and IO failures, non-2xx statuses and undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// LogicalFailure reports a response whose status was not "ok".
type LogicalFailure struct {
	Op      string
	Status  string
	Message string
}

func (e *LogicalFailure) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: status %q", e.Op, e.Status)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsLogical reports whether err carries a LogicalFailure.
func IsLogical(err error) bool {
	var target *LogicalFailure
	return errors.As(err, &target)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero leaves it to the transport.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a JSON client for the service endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RecognizeResponse is the decoded /recognize/ response. A non-ok status is
// returned as data, not as an error.
type RecognizeResponse struct {
	Status  string              `json:"status"`
	Results []model.PlateResult `json:"results"`
	Message string              `json:"message,omitempty"`
}

// OK reports whether the service accepted the frame.
func (r RecognizeResponse) OK() bool {
	return r.Status == model.StatusOK
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r statusResponse) check(op string) error {
	if r.Status == model.StatusOK {
		return nil
	}
	return &LogicalFailure{Op: op, Status: r.Status, Message: r.Message}
}

// New returns a client for cfg.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// BaseURL returns the service address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Recognize submits one encoded frame.
func (c *Client) Recognize(ctx context.Context, image string) (RecognizeResponse, error) {
	var resp RecognizeResponse
	body := map[string]string{"image_base64": image}
	if err := c.do(ctx, "recognize", http.MethodPost, "/recognize/", body, &resp); err != nil {
		return RecognizeResponse{}, err
	}
	return resp, nil
}

// Train submits the whole batch and returns the service message.
func (c *Client) Train(ctx context.Context, samples []model.Sample) (string, error) {
	if samples == nil {
		samples = []model.Sample{}
	}
	var resp statusResponse
	body := map[string]any{"data": samples}
	if err := c.do(ctx, "train", http.MethodPost, "/train/", body, &resp); err != nil {
		return "", err
	}
	if err := resp.check("train"); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// TrainingInfo returns the cumulative training data counts.
func (c *Client) TrainingInfo(ctx context.Context) (model.TrainingInfo, error) {
	var resp struct {
		statusResponse
		model.TrainingInfo
	}
	if err := c.do(ctx, "training info", http.MethodGet, "/training-info/", nil, &resp); err != nil {
		return model.TrainingInfo{}, err
	}
	if err := resp.check("training info"); err != nil {
		return model.TrainingInfo{}, err
	}
	return resp.TrainingInfo, nil
}

// GetConfig returns the canonical configuration document.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	var resp struct {
		statusResponse
		Config map[string]any `json:"config"`
	}
	if err := c.do(ctx, "get config", http.MethodGet, "/config/", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("get config"); err != nil {
		return nil, err
	}
	if resp.Config == nil {
		return nil, &TransportError{Op: "get config", Err: fmt.Errorf("%w: missing config", ErrInvalidResponse)}
	}
	return resp.Config, nil
}

// PutConfig replaces the canonical configuration and returns the document the
// service echoes back, or nil when it echoes nothing.
func (c *Client) PutConfig(ctx context.Context, doc map[string]any) (map[string]any, error) {
	var resp struct {
		statusResponse
		Updated map[string]any `json:"updated"`
	}
	body := map[string]any{"data": doc}
	if err := c.do(ctx, "put config", http.MethodPut, "/config/", body, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("put config"); err != nil {
		return nil, err
	}
	return resp.Updated, nil
}

// Evaluate returns the classifier metrics curve.
func (c *Client) Evaluate(ctx context.Context) ([]model.EvaluationPoint, error) {
	var resp struct {
		statusResponse
		Results []model.EvaluationPoint `json:"results"`
	}
	if err := c.do(ctx, "evaluate", http.MethodGet, "/evaluate/", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("evaluate"); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []model.EvaluationPoint{}
	}
	return resp.Results, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	return nil
}
