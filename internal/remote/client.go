// Package remote is the HTTP client for the remote study authority.
//
// Mutation deliveries go through Do, which attaches the idempotency key so the
// authority can drop replays. Errors are classified with Classify into
// transient (retry later) and permanent (dead-letter) outcomes.
package remote

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
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	maxErrorBody   = 512
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds each call. Zero means 15 seconds.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Request is one call to the remote authority.
type Request struct {
	Method   string
	Endpoint string
	// IdempotencyKey is sent as the Idempotency-Key header.
	IdempotencyKey string
	NaturalKey     string
	Body           []byte
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client interfaces with the remote authority API.
type Client struct {
	baseURL    *url.URL
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new remote authority client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do performs req. A non-2xx status is returned as *StatusError. If the parent
// context ends first its error is returned unchanged; if only the per-call
// timeout expires the error wraps ErrTimeout.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target, err := c.resolve(req.Endpoint)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}
	if req.NaturalKey != "" {
		httpReq.Header.Set(HeaderNaturalKey, req.NaturalKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(ctx, callCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// FetchQuiz retrieves a quiz by its remote ID.
func (c *Client) FetchQuiz(ctx context.Context, id string) (*Quiz, error) {
	var quiz Quiz
	if err := c.getJSON(ctx, PathQuizzes+url.PathEscape(id), &quiz); err != nil {
		return nil, fmt.Errorf("fetch quiz %s: %w", id, err)
	}
	return &quiz, nil
}

// FetchFlashcard retrieves a flashcard by its remote ID.
func (c *Client) FetchFlashcard(ctx context.Context, id string) (*Flashcard, error) {
	var card Flashcard
	if err := c.getJSON(ctx, PathFlashcards+url.PathEscape(id), &card); err != nil {
		return nil, fmt.Errorf("fetch flashcard %s: %w", id, err)
	}
	return &card, nil
}

// Health checks that the authority is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: PathHealth})
	return err
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(endpoint string) (string, error) {
	if !strings.HasPrefix(endpoint, "/") {
		return "", fmt.Errorf("%w: endpoint %q must be an absolute path", ErrInvalidRequest, endpoint)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + ref.Path
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (c *Client) transportError(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
