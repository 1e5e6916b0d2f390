// Package execution is the client of the remote execution service that runs algorithms.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrUpstream marks every failure to talk to the execution service.
var ErrUpstream = errors.New("execution service error")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("execution %s (%d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstream
}

// RemoteStatus is the status reported for a remote job.
type RemoteStatus string

const (
	StatusPending   RemoteStatus = "PENDING"
	StatusRunning   RemoteStatus = "RUNNING"
	StatusSuccess   RemoteStatus = "SUCCESS"
	StatusFailed    RemoteStatus = "ERROR"
	StatusCancelled RemoteStatus = "CANCELLED"
)

// Input is one named input file of a remote job.
type Input struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SubmitRequest describes a remote job.
type SubmitRequest struct {
	ServiceID string   `json:"serviceId"`
	Args      []string `json:"args"`
	Inputs    []Input  `json:"inputs"`
}

// JobStatus is the body of GET /job/{id}.
type JobStatus struct {
	ID           string       `json:"id"`
	Status       RemoteStatus `json:"status"`
	DataID       string       `json:"dataId,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Client calls the remote execution service. Requests are throttled by a shared limiter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// NewClient creates a client. rps <= 0 disables throttling.
func NewClient(baseURL, apiKey string, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		tracer:  otel.Tracer("sceneplane/execution"),
	}
}

// Submit starts a remote job and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "execution.submit", trace.WithAttributes(
		attribute.String("execution.service_id", req.ServiceID),
		attribute.Int("execution.inputs", len(req.Inputs)),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.do(ctx, "submit", http.MethodPost, "/job", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to parse submit response: %v", ErrUpstream, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: submit response has no job id", ErrUpstream)
	}

	span.SetAttributes(attribute.String("execution.job_id", resp.ID))
	return resp.ID, nil
}

// Status returns the current status of a remote job.
func (c *Client) Status(ctx context.Context, remoteID string) (*JobStatus, error) {
	ctx, span := c.tracer.Start(ctx, "execution.status", trace.WithAttributes(
		attribute.String("execution.job_id", remoteID),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	respBody, err := c.do(ctx, "status", http.MethodGet, "/job/"+url.PathEscape(remoteID), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status failed")
		return nil, err
	}

	var st JobStatus
	if err := json.Unmarshal(respBody, &st); err != nil {
		return nil, fmt.Errorf("%w: failed to parse status response: %v", ErrUpstream, err)
	}
	st.Status = RemoteStatus(strings.ToUpper(string(st.Status)))
	switch st.Status {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown remote status %q", ErrUpstream, st.Status)
	}

	span.SetAttributes(attribute.String("execution.status", string(st.Status)))
	return &st, nil
}

// Download returns the raw result bytes stored under dataID.
func (c *Client) Download(ctx context.Context, dataID string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "execution.download", trace.WithAttributes(
		attribute.String("execution.data_id", dataID),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	data, err := c.do(ctx, "download", http.MethodGet, "/data/"+url.PathEscape(dataID), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("execution.bytes", len(data)))
	return data, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %v", ErrUpstream, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s read body: %v", ErrUpstream, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}
