package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 64 << 10
)

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token() string
}

// HTTPClient makes REST calls to the campus API.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient creates a client targeting the API root (e.g.
// "http://127.0.0.1:8080/api"). A zero timeout uses the default.
func NewHTTPClient(baseURL string, tokens TokenSource, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "http-client").Logger(),
	}
}

// ListNotifications fetches one page of the user's notifications. Pages are
// numbered from 1.
func (c *HTTPClient) ListNotifications(ctx context.Context, page, size int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	q := url.Values{}
	q.Set("current", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var out NotificationPage
	if err := c.do(ctx, http.MethodGet, "/notification/list?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount fetches the number of unread notifications.
func (c *HTTPClient) UnreadCount(ctx context.Context) (int64, error) {
	var out UnreadCount
	if err := c.do(ctx, http.MethodGet, "/notification/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkRead sends PUT /notification/read/{id}.
func (c *HTTPClient) MarkRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, "/notification/read/"+strconv.FormatInt(id, 10), nil, nil)
}

// MarkAllRead sends PUT /notification/read-all.
func (c *HTTPClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notification/read-all", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s %s: encode body", method, path)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "%s %s: decode envelope", method, path)
	}
	if env.Code != CodeOK {
		c.logger.Debug().Str("path", path).Int("code", env.Code).Str("message", env.Message).Msg("api call rejected")
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "%s %s: decode data", method, path)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
