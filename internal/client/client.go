// Package client is the HTTP implementation of the draft backend port.
//
// Every call carries the API key in the x-api-key header. Non-2xx
// responses decode the service's {"error","code","fields"} body into an
// *APIError whose Unwrap exposes the matching sentinel from internal/types,
// so callers branch with errors.Is and never on status codes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/rules"
	"github.com/solatis/meterkeeper/internal/types"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// ErrUnauthorized is reachable from an *APIError for 401 and 403 responses.
var ErrUnauthorized = errors.New("api key rejected")

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the meterkeeper REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New creates a client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("client base URL required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{httpClient: hc, baseURL: base, apiKey: cfg.APIKey, logger: logger}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  types.FieldErrors
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, msg)
}

// Unwrap exposes the sentinel for the status and, when the body carried
// field errors, a *types.ValidationError.
func (e *APIError) Unwrap() []error {
	var errs []error
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		errs = append(errs, ErrUnauthorized)
	case http.StatusNotFound:
		errs = append(errs, types.ErrNotFound)
	case http.StatusConflict:
		errs = append(errs, types.ErrConflict)
	case http.StatusUnprocessableEntity:
		errs = append(errs, types.ErrFinalizeRejected)
	}
	if len(e.Fields) > 0 {
		errs = append(errs, &types.ValidationError{Errors: e.Fields})
	}
	return errs
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields types.FieldErrors `json:"fields,omitempty"`
}

func (c *Client) request(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		apiErr := &APIError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(payload, &eb) == nil && eb.Error != "" {
			apiErr.Code, apiErr.Message, apiErr.Fields = eb.Code, eb.Error, eb.Fields
		} else {
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func collection(kind types.Kind) string {
	return "/v1/" + url.PathEscape(string(kind)) + "s"
}

func member(kind types.Kind, id types.EntityID) string {
	return collection(kind) + "/" + url.PathEscape(string(id))
}

// Create posts the sparse payload of a new entity.
func (c *Client) Create(ctx context.Context, kind types.Kind, payload types.ChangeSet) (*types.Record, error) {
	var rec types.Record
	if err := c.request(ctx, http.MethodPost, collection(kind), payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update patches the ChangeSet onto a draft.
func (c *Client) Update(ctx context.Context, kind types.Kind, id types.EntityID, cs types.ChangeSet) (*types.Record, error) {
	var rec types.Record
	if err := c.request(ctx, http.MethodPatch, member(kind, id), cs, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Finalize asks for the DRAFT to ACTIVE transition.
func (c *Client) Finalize(ctx context.Context, kind types.Kind, id types.EntityID) (*types.Record, error) {
	var rec types.Record
	if err := c.request(ctx, http.MethodPost, member(kind, id)+"/finalize", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a draft.
func (c *Client) Delete(ctx context.Context, kind types.Kind, id types.EntityID) error {
	return c.request(ctx, http.MethodDelete, member(kind, id), nil, nil)
}

// List returns every entity of kind visible to the API key.
func (c *Client) List(ctx context.Context, kind types.Kind) ([]types.Record, error) {
	var recs []types.Record
	if err := c.request(ctx, http.MethodGet, collection(kind), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Get fetches one entity.
func (c *Client) Get(ctx context.Context, kind types.Kind, id types.EntityID) (*types.Record, error) {
	var rec types.Record
	if err := c.request(ctx, http.MethodGet, member(kind, id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Options asks the service to resolve the options of field under values.
func (c *Client) Options(ctx context.Context, field types.Field, values types.FieldValues) (rules.Options[string], error) {
	q := url.Values{}
	q.Set("field", string(field))
	for f, v := range values {
		if s := v.String(); s != "" {
			q.Set(string(f), s)
		}
	}
	var opts rules.Options[string]
	err := c.request(ctx, http.MethodGet, "/v1/catalog/options?"+q.Encode(), nil, &opts)
	return opts, err
}

// Evaluate matches a usage event against a stored metric.
func (c *Client) Evaluate(ctx context.Context, id types.EntityID, event json.RawMessage) (*rules.MatchResult, error) {
	var res rules.MatchResult
	if err := c.request(ctx, http.MethodPost, member(types.KindMetric, id)+"/evaluate", event, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
