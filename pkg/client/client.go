// Package client implements the HTTP client for the workflow execution
// backend API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 30 * time.Second

// APIError is a decoded backend error response (RFC 7807 problem body).
type APIError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}

	return fmt.Sprintf("backend returned %d", e.Status)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)

	return ok && apiErr.Status == http.StatusNotFound
}

// ListOptions filters and paginates the execution list.
type ListOptions struct {
	WorkflowID string
	Status     string
	Page       int
	Limit      int
}

// ExecutionList is the paginated response of List.
type ExecutionList struct {
	Executions []*models.Execution `json:"executions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
}

type logsResponse struct {
	Logs []models.LogEntry `json:"logs"`
}

// Client talks to the executions API with a bearer credential. All
// methods return typed errors; none panic.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "client"),
		tracer:     otel.Tracer("flowwatch/client"),
	}
}

// List fetches the historical execution list.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ExecutionList, error) {
	query := url.Values{}

	if opts.WorkflowID != "" {
		query.Set("workflowId", opts.WorkflowID)
	}

	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/executions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list ExecutionList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	return &list, nil
}

// Get fetches a single execution with its steps.
func (c *Client) Get(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution
	if err := c.do(ctx, http.MethodGet, "/executions/"+id, nil, &execution); err != nil {
		return nil, err
	}

	return &execution, nil
}

// Cancel requests cancellation of a running execution. Cancelling an
// already-terminal execution succeeds on the backend as a no-op.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/executions/"+id+"/cancel", nil, nil)
}

// Retry asks the backend to re-run the workflow and returns the new
// execution.
func (c *Client) Retry(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution
	if err := c.do(ctx, http.MethodPost, "/executions/"+id+"/retry", nil, &execution); err != nil {
		return nil, err
	}

	return &execution, nil
}

// Delete removes an execution from the backend's history.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/executions/"+id, nil, nil)
}

// Logs fetches the execution's log lines.
func (c *Client) Logs(ctx context.Context, id string) ([]models.LogEntry, error) {
	var response logsResponse
	if err := c.do(ctx, http.MethodGet, "/executions/"+id+"/logs", nil, &response); err != nil {
		return nil, err
	}

	return response.Logs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	spanCtx, span := otelhelper.StartSpan(ctx, c.tracer, "client "+method+" "+path,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer span.End()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			otelhelper.SetError(span, err)

			return fmt.Errorf("marshal request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(spanCtx, method, c.baseURL+path, reader)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := c.decodeError(resp)
		otelhelper.SetError(span, apiErr)

		return apiErr
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("decode response of %s %s: %w", method, path, err)
	}

	return nil
}

func (c *Client) decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}

	if err := json.Unmarshal(payload, apiErr); err != nil {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}

	apiErr.Status = resp.StatusCode

	return apiErr
}
