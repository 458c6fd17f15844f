package repository

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/parks-console/internal/models"
	appErrors "github.com/noah-isme/parks-console/pkg/errors"
	"github.com/noah-isme/parks-console/pkg/middleware/requestid"
)

const maxErrorBody = 64 * 1024

// ErrBulkUnsupported reports that the resource exposes no bulk import endpoint.
var ErrBulkUnsupported = errors.New("bulk import endpoint not available")

var errNoBulkResults = errors.New("bulk response carries no per-row results")

// UpstreamError is a non-2xx answer from the parks API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// upstreamObserver receives per-call latency.
type upstreamObserver interface {
	ObserveUpstream(operation string, status int, duration time.Duration)
}

// ResourceClientConfig configures the parks API client.
type ResourceClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// ResourceClient talks to the parks REST API on behalf of an authenticated session.
type ResourceClient struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	observer upstreamObserver
	logger   *zap.Logger
}

// NewResourceClient constructs a client. A non-positive RateLimit disables throttling.
func NewResourceClient(cfg ResourceClientConfig, httpClient *http.Client, observer upstreamObserver, logger *zap.Logger) *ResourceClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ResourceClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		observer: observer,
		logger:   logger,
	}
}

// List fetches GET /api/<resource> and returns the raw body.
func (c *ResourceClient) List(ctx context.Context, session *models.Session, resource string) ([]byte, error) {
	body, status, err := c.do(ctx, session, "list", http.MethodGet, c.endpoint(resource), nil)
	if err != nil {
		return nil, loadFailure(err)
	}
	if status >= 300 {
		return nil, loadFailure(newUpstreamError(status, body))
	}
	return body, nil
}

// Create posts a new record.
func (c *ResourceClient) Create(ctx context.Context, session *models.Session, resource string, payload models.Record) (models.Record, error) {
	return c.mutate(ctx, session, "create", http.MethodPost, c.endpoint(resource), payload)
}

// Update replaces the record with the given id.
func (c *ResourceClient) Update(ctx context.Context, session *models.Session, resource, id string, payload models.Record) (models.Record, error) {
	return c.mutate(ctx, session, "update", http.MethodPut, c.endpoint(resource, id), payload)
}

// Delete removes the record with the given id.
func (c *ResourceClient) Delete(ctx context.Context, session *models.Session, resource, id string) error {
	body, status, err := c.do(ctx, session, "delete", http.MethodDelete, c.endpoint(resource, id), nil)
	if err != nil {
		return mutationFailure(err)
	}
	if status >= 300 {
		return mutationFailure(newUpstreamError(status, body))
	}
	return nil
}

// BulkCreate posts the records to /api/<resource>/import. Results carry the
// zero-based index of each record in the request. ErrBulkUnsupported is
// returned when the endpoint does not exist.
func (c *ResourceClient) BulkCreate(ctx context.Context, session *models.Session, resource string, records []models.Record) ([]models.RowResult, error) {
	body, status, err := c.do(ctx, session, "bulk_create", http.MethodPost, c.endpoint(resource, "import"), records)
	if err != nil {
		return nil, mutationFailure(err)
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return nil, ErrBulkUnsupported
	case status >= 300 && status != http.StatusMultiStatus && status != http.StatusUnprocessableEntity:
		return nil, mutationFailure(newUpstreamError(status, body))
	}
	partial := status == http.StatusMultiStatus || status == http.StatusUnprocessableEntity
	results, err := decodeBulkResults(body, len(records), !partial)
	if errors.Is(err, errNoBulkResults) {
		// a rejection without per-row results fails the whole batch
		return nil, mutationFailure(newUpstreamError(status, body))
	}
	if err != nil {
		return nil, mutationFailure(err)
	}
	return results, nil
}

func (c *ResourceClient) mutate(ctx context.Context, session *models.Session, op, method, target string, payload models.Record) (models.Record, error) {
	body, status, err := c.do(ctx, session, op, method, target, payload)
	if err != nil {
		return nil, mutationFailure(err)
	}
	if status >= 300 {
		return nil, mutationFailure(newUpstreamError(status, body))
	}
	record, err := decodeRecord(body)
	if err != nil {
		return nil, mutationFailure(err)
	}
	return record, nil
}

func (c *ResourceClient) endpoint(resource string, parts ...string) string {
	segments := []string{c.baseURL, "api"}
	for _, part := range strings.Split(strings.Trim(resource, "/"), "/") {
		segments = append(segments, url.PathEscape(part))
	}
	for _, part := range parts {
		segments = append(segments, url.PathEscape(part))
	}
	return strings.Join(segments, "/")
}

func (c *ResourceClient) do(ctx context.Context, session *models.Session, op, method, target string, payload interface{}) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s payload: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		if session.Token != "" {
			req.Header.Set("Authorization", "Bearer "+session.Token)
		}
		if session.RequestID != "" {
			req.Header.Set(requestid.HeaderKey, session.RequestID)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.logger.Warn("upstream call failed", zap.String("operation", op), zap.String("url", target), zap.Error(err))
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.observe(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode >= 500 {
		c.logger.Warn("upstream error", zap.String("operation", op), zap.Int("status", resp.StatusCode))
	}
	return body, resp.StatusCode, nil
}

func (c *ResourceClient) observe(op string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveUpstream(op, status, d)
	}
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &UpstreamError{Status: status, Message: extractMessage(body, status)}
}

// extractMessage reads {"message"}, {"error": "..."} or {"error": {"message"}}.
func extractMessage(body []byte, status int) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		var text string
		if json.Unmarshal(payload.Error, &text) == nil && text != "" {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return http.StatusText(status)
}

func classify(err error, fallback *appErrors.Error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.Status {
		case http.StatusUnauthorized:
			return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, upstream.Message)
		case http.StatusForbidden:
			return appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, upstream.Message)
		case http.StatusNotFound:
			if fallback.Code == appErrors.ErrMutationFailed.Code {
				return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, upstream.Message)
			}
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			if fallback.Code == appErrors.ErrMutationFailed.Code {
				return appErrors.Wrap(err, fallback.Code, http.StatusUnprocessableEntity, upstream.Message)
			}
		}
		return appErrors.Wrap(err, fallback.Code, fallback.Status, upstream.Message)
	}
	return appErrors.Wrap(err, fallback.Code, fallback.Status, fallback.Message)
}

func loadFailure(err error) error {
	return classify(err, appErrors.ErrLoadFailed)
}

func mutationFailure(err error) error {
	return classify(err, appErrors.ErrMutationFailed)
}

// decodeRecord accepts a bare object or one wrapped in {"data": {...}}.
func decodeRecord(body []byte) (models.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return models.Record{}, nil
	}
	var record models.Record
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if data, ok := record["data"].(map[string]interface{}); ok {
		return models.Record(data), nil
	}
	return record, nil
}

type bulkItem struct {
	Index   *int            `json:"index"`
	Row     *int            `json:"row"`
	Success *bool           `json:"success"`
	OK      *bool           `json:"ok"`
	ID      interface{}     `json:"id"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// decodeBulkResults reads a result list from a bare array, {"results": [...]},
// {"data": [...]} or {"data": {"results": [...]}}. A body without results
// means every record was created when assumeSuccess is set, and
// errNoBulkResults otherwise.
func decodeBulkResults(body []byte, count int, assumeSuccess bool) ([]models.RowResult, error) {
	items, err := findBulkItems(bytes.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if items == nil {
		if !assumeSuccess {
			return nil, errNoBulkResults
		}
		out := make([]models.RowResult, count)
		for i := range out {
			out[i] = models.RowResult{Row: i, Success: true}
		}
		return out, nil
	}
	out := make([]models.RowResult, 0, len(items))
	for i, item := range items {
		index := i
		switch {
		case item.Index != nil:
			index = *item.Index
		case item.Row != nil:
			index = *item.Row
		}
		message := item.Message
		var text string
		if json.Unmarshal(item.Error, &text) == nil && text != "" {
			message = text
		} else {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(item.Error, &nested) == nil && nested.Message != "" {
				message = nested.Message
			}
		}
		success := message == ""
		if item.Success != nil {
			success = *item.Success
		} else if item.OK != nil {
			success = *item.OK
		}
		result := models.RowResult{Row: index, Success: success}
		if success {
			result.ID = models.Stringify(item.ID)
		} else {
			if message == "" {
				message = "rejected by server"
			}
			result.Error = message
		}
		out = append(out, result)
	}
	return out, nil
}

func findBulkItems(body []byte) ([]bulkItem, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var items []bulkItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode bulk results: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		Results json.RawMessage `json:"results"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode bulk envelope: %w", err)
	}
	for _, candidate := range []json.RawMessage{envelope.Results, envelope.Data} {
		candidate = bytes.TrimSpace(candidate)
		if len(candidate) == 0 || bytes.Equal(candidate, []byte("null")) {
			continue
		}
		return findBulkItems(candidate)
	}
	return nil, nil
}
