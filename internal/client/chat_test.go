package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-news/notify/internal/chatstream"
)

type chatTrace struct {
	mu        sync.Mutex
	fragments []string
	errs      []error
	completes []string
}

func (c *chatTrace) handler() chatstream.Handler {
	return chatstream.Handler{
		OnFragment: func(s string) { c.mu.Lock(); c.fragments = append(c.fragments, s); c.mu.Unlock() },
		OnError:    func(err error) { c.mu.Lock(); c.errs = append(c.errs, err); c.mu.Unlock() },
		OnComplete: func(id string) { c.mu.Lock(); c.completes = append(c.completes, id); c.mu.Unlock() },
	}
}

func TestChatClient_StreamsFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ai/chat/stream", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req chatstream.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is new on campus?", req.Question)
		assert.Equal(t, "s-1", req.SessionID)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"Library", " opens", " late."} {
			fmt.Fprintf(w, "data: {\"content\":%q,\"done\":false}\n\n", part)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"content\":\"\",\"done\":true,\"sessionId\":\"s-1\"}\n\n")
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL+"/api", NewSession("tok"), time.Second, zerolog.Nop())
	tr := &chatTrace{}
	c.StreamChat(context.Background(), chatstream.Request{Question: "what is new on campus?", SessionID: "s-1"}, tr.handler())

	assert.Equal(t, []string{"Library", " opens", " late."}, tr.fragments)
	assert.Equal(t, []string{"s-1"}, tr.completes)
	assert.Empty(t, tr.errs)
}

func TestChatClient_RefusedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("data: {\"content\":\"should not be decoded\"}\n"))
	}))
	defer srv.Close()

	tr := &chatTrace{}
	NewChatClient(srv.URL, NewSession("tok"), 0, zerolog.Nop()).
		StreamChat(context.Background(), chatstream.Request{Question: "hi"}, tr.handler())

	assert.Empty(t, tr.fragments)
	assert.Empty(t, tr.completes)
	require.Len(t, tr.errs, 1)
	var statusErr *chatstream.StatusError
	require.True(t, errors.As(tr.errs[0], &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, `data: {"content":"should not be decoded"}`, statusErr.Body)
}

func TestChatClient_ServerErrorRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"partial\",\"done\":false}\n\n")
		fmt.Fprint(w, "data: {\"content\":\"model unavailable\",\"done\":true,\"error\":true}\n\n")
	}))
	defer srv.Close()

	tr := &chatTrace{}
	NewChatClient(srv.URL, NewSession("tok"), 0, zerolog.Nop()).
		StreamChat(context.Background(), chatstream.Request{Question: "hi"}, tr.handler())

	assert.Equal(t, []string{"partial"}, tr.fragments)
	assert.Empty(t, tr.completes)
	require.Len(t, tr.errs, 1)
	var recErr *chatstream.RecordError
	require.True(t, errors.As(tr.errs[0], &recErr))
	assert.Equal(t, "model unavailable", recErr.Message)
}

func TestChatClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := &chatTrace{}
	NewChatClient(url, NewSession("tok"), 0, zerolog.Nop()).
		StreamChat(context.Background(), chatstream.Request{Question: "hi"}, tr.handler())

	require.Len(t, tr.errs, 1)
	assert.Contains(t, tr.errs[0].Error(), "open chat stream")
	assert.Empty(t, tr.completes)
}
