package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campus-news/notify/internal/chatstream"
)

// ChatClient opens streaming chat calls. It has no overall timeout because
// answers stream for as long as the model keeps producing; only the response
// headers are bounded.
type ChatClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  zerolog.Logger
}

// NewChatClient creates a client for <baseURL>/ai/chat/stream. headerTimeout
// bounds the wait for the response headers; zero uses the default.
func NewChatClient(baseURL string, tokens TokenSource, headerTimeout time.Duration, logger zerolog.Logger) *ChatClient {
	if headerTimeout <= 0 {
		headerTimeout = defaultRequestTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Transport: transport},
		logger:  logger.With().Str("component", "chat-client").Logger(),
	}
}

// StreamChat posts req and decodes the answer stream into h. It blocks until
// the stream ends and makes exactly one terminal callback. A refused request
// is reported as *chatstream.StatusError carrying the full response body and
// produces no fragments.
func (c *ChatClient) StreamChat(ctx context.Context, req chatstream.Request, h chatstream.Handler) {
	fail := func(err error) {
		if h.OnError != nil {
			h.OnError(err)
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		fail(errors.Wrap(err, "encode chat request"))
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ai/chat/stream", bytes.NewReader(data))
	if err != nil {
		fail(errors.Wrap(err, "build chat request"))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		fail(errors.Wrap(err, "open chat stream"))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			c.logger.Debug().Err(readErr).Msg("reading error body")
		}
		c.logger.Warn().Int("status", resp.StatusCode).Msg("chat stream refused")
		fail(&chatstream.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
		return
	}

	chatstream.Consume(c.logger.WithContext(ctx), resp.Body, h)
}
