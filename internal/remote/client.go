// Package remote talks to the authoritative practice store over HTTP and provides a
// development server implementing the same API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/verte-zerg/drillog/internal/model"
)

const (
	// compressionThreshold is the minimum payload size to compress.
	compressionThreshold = 1024

	apiPrefix    = "/api/v1"
	apiKeyHeader = "X-Api-Key"
)

var (
	// ErrUnauthorized is returned when the server answers 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoUser is returned when no user is set on the client.
	ErrNoUser = errors.New("no signed-in user")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http request failed with status %d: %s", e.Status, e.Body)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Rate caps requests per second. Zero disables pacing.
	Rate float64
}

// Client is the HTTP implementation of the sync engine's remote.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	encoder    *zstd.Encoder
	limiter    *rate.Limiter

	mu   sync.RWMutex
	user string
}

// NewClient creates a client. The user is set separately with SetUser.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote url is empty")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		encoder:    encoder,
	}
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return c, nil
}

// SetUser selects the account whose history is read and written.
func (c *Client) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = userID
}

func (c *Client) currentUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// doJSON performs a request with a JSON body and parses the JSON response. Payloads
// larger than 1KB are compressed with zstd.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	user := c.currentUser()
	if user == "" {
		return ErrNoUser
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var bodyReader io.Reader
	var contentEncoding string
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		if len(payload) >= compressionThreshold {
			compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
			bodyReader = bytes.NewReader(compressed)
			contentEncoding = "zstd"
		} else {
			bodyReader = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
		if contentEncoding != "" {
			req.Header.Set("Content-Encoding", contentEncoding)
		}
	}
	// The user id doubles as the bearer token.
	req.Header.Set("Authorization", "Bearer "+user)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if respBody != nil {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// CreateSession creates the session or returns the id of the one with the same
// natural key.
func (c *Client) CreateSession(ctx context.Context, session model.Session) (int64, error) {
	var resp idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", sessionToJSON(session), &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateSessionDone sets the end time of an authoritative session.
func (c *Client) UpdateSessionDone(ctx context.Context, id int64, doneAt *time.Time) error {
	return c.doJSON(ctx, http.MethodPatch, "/sessions/"+strconv.FormatInt(id, 10), doneRequest{DoneAt: doneAt}, nil)
}

// CreateAttempt creates the attempt or returns the id of the one with the same
// natural key.
func (c *Client) CreateAttempt(ctx context.Context, attempt model.WordAttempt) (int64, error) {
	var resp idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/attempts", attemptToJSON(attempt), &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// CreateCharLogs stores logs, ignoring ones that already exist.
func (c *Client) CreateCharLogs(ctx context.Context, logs []model.CharLog) error {
	if len(logs) == 0 {
		return nil
	}
	req := charLogsRequest{Logs: make([]charLogJSON, len(logs))}
	for i, l := range logs {
		req.Logs[i] = charLogToJSON(l)
	}
	return c.doJSON(ctx, http.MethodPost, "/char-logs", req, nil)
}

// FetchAllSessions returns every session of the user.
func (c *Client) FetchAllSessions(ctx context.Context) ([]model.Session, error) {
	var resp []sessionJSON
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Session, len(resp))
	for i, s := range resp {
		out[i] = s.model()
	}
	return out, nil
}

// FetchAttempts returns the attempts of the given sessions.
func (c *Client) FetchAttempts(ctx context.Context, sessionIDs []int64) ([]model.WordAttempt, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var resp []attemptJSON
	if err := c.doJSON(ctx, http.MethodPost, "/attempts/query", sessionIDsRequest{SessionIDs: sessionIDs}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.WordAttempt, len(resp))
	for i, a := range resp {
		out[i] = a.model()
	}
	return out, nil
}

// FetchCharLogs returns the char logs of the given attempts.
func (c *Client) FetchCharLogs(ctx context.Context, attemptIDs []int64) ([]model.CharLog, error) {
	if len(attemptIDs) == 0 {
		return nil, nil
	}
	var resp []charLogJSON
	if err := c.doJSON(ctx, http.MethodPost, "/char-logs/query", attemptIDsRequest{AttemptIDs: attemptIDs}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.CharLog, len(resp))
	for i, l := range resp {
		out[i] = l.model()
	}
	return out, nil
}
