package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-news/notify/internal/channel"
	"github.com/campus-news/notify/internal/chatstream"
	"github.com/campus-news/notify/internal/client"
	"github.com/campus-news/notify/internal/config"
	"github.com/campus-news/notify/internal/notification"
)

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

var (
	alice = config.User{ID: 1, Name: "alice"}
	bob   = config.User{ID: 2, Name: "bob"}
)

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store *notification.Store
	hub   *Hub
}

func newTestEnv(t *testing.T, answerer Answerer) *testEnv {
	t.Helper()
	cfg := config.ServerConfig{
		Users: map[string]config.User{aliceToken: alice, bobToken: bob},
	}
	env := &testEnv{
		store: notification.NewStore(),
		hub:   NewHub(zerolog.Nop()),
	}
	env.srv = NewServer(cfg, env.store, env.hub, answerer, zerolog.Nop())
	mux := http.NewServeMux()
	env.srv.SetupRoutes(mux)
	env.http = httptest.NewServer(mux)
	t.Cleanup(func() {
		env.hub.Close()
		env.http.Close()
	})
	return env
}

func (e *testEnv) apiURL() string { return e.http.URL + "/api" }

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/ws/notification"
}

// dial connects as token and consumes the welcome frame.
func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, notification.Ack) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var ack notification.Ack
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	return conn, ack
}

func TestWS_RejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, q := range []string{"", "?token=", "?token=forged"} {
		_, resp, err := websocket.DefaultDialer.Dial(env.wsURL()+q, nil)
		require.Error(t, err, q)
		require.NotNil(t, resp, q)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, q)
	}
	assert.Equal(t, 0, env.hub.ClientCount())
}

func TestWS_WelcomeAndProbeReply(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, ack := env.dial(t, aliceToken)
	assert.Equal(t, notification.KindAck, ack.Type)
	assert.Equal(t, 1, ack.OnlineCount)

	_, ack2 := env.dial(t, bobToken)
	assert.Equal(t, 2, ack2.OnlineCount)
	_, ack3 := env.dial(t, aliceToken)
	assert.Equal(t, 2, ack3.OnlineCount, "online count is per user")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestNotify_RoutesToRecipientOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceConn, _ := env.dial(t, aliceToken)
	bobConn, _ := env.dial(t, bobToken)

	err := env.srv.Notify(notification.Notification{
		UserID:    bob.ID,
		From:      notification.Actor{ID: alice.ID, Name: alice.Name},
		Kind:      notification.KindLike,
		ArticleID: 5,
		Content:   "alice liked your article",
	})
	require.NoError(t, err)

	var push notification.Push
	require.NoError(t, bobConn.ReadJSON(&push))
	assert.Equal(t, notification.KindLike, push.Type)
	assert.Equal(t, "alice", push.FromUserName)
	assert.Equal(t, int64(5), push.ArticleID)
	assert.NotEmpty(t, push.Timestamp)

	require.NoError(t, aliceConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = aliceConn.ReadMessage()
	assert.Error(t, err, "sender receives nothing")

	assert.ErrorIs(t, env.srv.Notify(notification.Notification{
		UserID: bob.ID, From: notification.Actor{ID: bob.ID}, Kind: notification.KindFollow,
	}), notification.ErrSelfNotification)
	assert.Equal(t, 1, env.store.UnreadCount(bob.ID))
}

func TestAnnounce_BroadcastsAndStores(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceConn, _ := env.dial(t, aliceToken)
	bobConn, _ := env.dial(t, bobToken)

	env.srv.Announce("Maintenance", "The portal restarts at 02:00")

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		var push notification.Push
		require.NoError(t, conn.ReadJSON(&push))
		assert.Equal(t, notification.KindSystem, push.Type)
		assert.Equal(t, "Maintenance", push.Title)
	}
	assert.Equal(t, 1, env.store.UnreadCount(alice.ID))
	assert.Equal(t, 1, env.store.UnreadCount(bob.ID))
}

func TestREST_NotificationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.srv.Notify(notification.Notification{
			UserID: alice.ID, From: notification.Actor{ID: bob.ID, Name: "bob"}, Kind: notification.KindComment,
		}))
	}
	ctx := context.Background()
	c := client.NewHTTPClient(env.apiURL(), client.NewSession(aliceToken), time.Second, zerolog.Nop())

	page, err := c.ListNotifications(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, int64(3), page.Records[0].ID)
	require.NotNil(t, page.Records[0].FromUser)
	assert.Equal(t, "bob", page.Records[0].FromUser.Username)

	n, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, c.MarkRead(ctx, page.Records[0].ID))
	n, _ = c.UnreadCount(ctx)
	assert.Equal(t, int64(2), n)

	err = c.MarkRead(ctx, 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	require.NoError(t, c.MarkAllRead(ctx))
	n, _ = c.UnreadCount(ctx)
	assert.Equal(t, int64(0), n)

	_, err = client.NewHTTPClient(env.apiURL(), client.NewSession(""), time.Second, zerolog.Nop()).UnreadCount(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

// scriptedAnswerer emits a fixed answer, or fails after the fragments.
type scriptedAnswerer struct {
	fragments []string
	err       error
}

func (a scriptedAnswerer) Answer(_ context.Context, _ chatstream.Request, emit func(string) error) error {
	for _, f := range a.fragments {
		if err := emit(f); err != nil {
			return err
		}
	}
	return a.err
}

type chatResult struct {
	mu        sync.Mutex
	fragments []string
	errs      []error
	completes []string
}

func (r *chatResult) handler() chatstream.Handler {
	return chatstream.Handler{
		OnFragment: func(s string) { r.mu.Lock(); r.fragments = append(r.fragments, s); r.mu.Unlock() },
		OnError:    func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnComplete: func(id string) { r.mu.Lock(); r.completes = append(r.completes, id); r.mu.Unlock() },
	}
}

func TestChatStream(t *testing.T) {
	ctx := context.Background()

	t.Run("answer with generated session", func(t *testing.T) {
		env := newTestEnv(t, scriptedAnswerer{fragments: []string{"The ", "library ", "opens at 8."}})
		res := &chatResult{}
		client.NewChatClient(env.apiURL(), client.NewSession(aliceToken), time.Second, zerolog.Nop()).
			StreamChat(ctx, chatstream.Request{Question: "when does the library open?"}, res.handler())

		assert.Equal(t, []string{"The ", "library ", "opens at 8."}, res.fragments)
		assert.Empty(t, res.errs)
		require.Len(t, res.completes, 1)
		assert.Len(t, res.completes[0], 36, "uuid session id")
	})

	t.Run("session id echoed", func(t *testing.T) {
		env := newTestEnv(t, scriptedAnswerer{fragments: []string{"ok"}})
		res := &chatResult{}
		client.NewChatClient(env.apiURL(), client.NewSession(aliceToken), time.Second, zerolog.Nop()).
			StreamChat(ctx, chatstream.Request{Question: "q", SessionID: "keep-me"}, res.handler())
		assert.Equal(t, []string{"keep-me"}, res.completes)
	})

	t.Run("answer failure becomes error record", func(t *testing.T) {
		env := newTestEnv(t, scriptedAnswerer{fragments: []string{"partial"}, err: errors.New("model overloaded")})
		res := &chatResult{}
		client.NewChatClient(env.apiURL(), client.NewSession(aliceToken), time.Second, zerolog.Nop()).
			StreamChat(ctx, chatstream.Request{Question: "q"}, res.handler())

		assert.Equal(t, []string{"partial"}, res.fragments)
		assert.Empty(t, res.completes)
		require.Len(t, res.errs, 1)
		var recErr *chatstream.RecordError
		require.True(t, errors.As(res.errs[0], &recErr))
		assert.Equal(t, apologyPrefix+"model overloaded", recErr.Message)
	})

	t.Run("refused requests", func(t *testing.T) {
		env := newTestEnv(t, scriptedAnswerer{})
		cases := []struct {
			token  string
			req    chatstream.Request
			status int
		}{
			{"", chatstream.Request{Question: "q"}, http.StatusUnauthorized},
			{aliceToken, chatstream.Request{Question: "   "}, http.StatusBadRequest},
		}
		for _, tc := range cases {
			res := &chatResult{}
			client.NewChatClient(env.apiURL(), client.NewSession(tc.token), time.Second, zerolog.Nop()).
				StreamChat(ctx, tc.req, res.handler())
			require.Len(t, res.errs, 1)
			var statusErr *chatstream.StatusError
			require.True(t, errors.As(res.errs[0], &statusErr))
			assert.Equal(t, tc.status, statusErr.StatusCode)
			assert.Empty(t, res.fragments)
			assert.Empty(t, res.completes)
		}
	})

	t.Run("no answerer", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req, err := http.NewRequest(http.MethodPost, env.apiURL()+"/ai/chat/stream", strings.NewReader(`{"question":"q"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "campus:8080", true},
		{"same host", nil, "http://campus:8080", "campus:8080", true},
		{"localhost", nil, "http://localhost:5173", "campus:8080", true},
		{"ipv6 loopback", nil, "http://[::1]:5173", "campus:8080", true},
		{"foreign", nil, "http://evil.example", "campus:8080", false},
		{"allow list exact", []string{"https://news.campus.edu"}, "https://news.campus.edu", "x", true},
		{"allow list host", []string{"https://news.campus.edu"}, "http://news.campus.edu", "x", true},
		{"allow list excludes localhost", []string{"https://news.campus.edu"}, "http://localhost:5173", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(config.ServerConfig{AllowedOrigins: tt.allowed}, notification.NewStore(), NewHub(zerolog.Nop()), nil, zerolog.Nop())
			r := httptest.NewRequest(http.MethodGet, "/api/ws/notification", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(r))
		})
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.dial(t, aliceToken)
	require.Equal(t, 1, env.hub.ClientCount())

	// Never read: the socket and send buffer eventually fill up.
	payload := strings.Repeat("x", 64<<10)
	require.Eventually(t, func() bool {
		env.hub.SendTo(alice.ID, map[string]string{"type": "SYSTEM", "content": payload})
		return env.hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
}

// TestChannelAgainstServer runs the client Channel against the dev server.
func TestChannelAgainstServer(t *testing.T) {
	env := newTestEnv(t, nil)
	session := client.NewSession(bobToken)

	ch, err := channel.New(channel.Options{
		URL:         env.wsURL(),
		Credentials: session,
		RetryDelay:  10 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	likes := make(chan channel.Notification, 4)
	acks := make(chan int, 4)
	ch.On(channel.CategoryLike, func(ev channel.Event) {
		n, err := ev.Notification()
		if assert.NoError(t, err) {
			likes <- n
		}
	})
	ch.On(channel.CategoryAck, func(ev channel.Event) {
		n, _ := ev.Notification()
		acks <- n.OnlineCount
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Run(ctx) }()
	ch.Connect()

	select {
	case count := <-acks:
		assert.Equal(t, 1, count)
	case <-time.After(2 * time.Second):
		t.Fatal("no welcome frame")
	}

	require.NoError(t, env.srv.Notify(notification.Notification{
		UserID: bob.ID, From: notification.Actor{ID: alice.ID, Name: "alice"}, Kind: notification.KindLike,
	}))
	select {
	case n := <-likes:
		assert.Equal(t, "alice", n.FromUserName)
		assert.Equal(t, "LIKE", n.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	raw, err := json.Marshal(map[string]string{"probe": "x"})
	require.NoError(t, err)
	ch.Send(raw)
	ch.Disconnect()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPeer_EnqueueAndClose(t *testing.T) {
	p := &peer{send: make(chan []byte, 1)}
	assert.True(t, p.enqueue([]byte("a")))
	assert.False(t, p.enqueue([]byte("b")), "full buffer rejects")

	p.close()
	p.close()
	assert.False(t, p.enqueue([]byte("c")), "closed peer rejects")
}
