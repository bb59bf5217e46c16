package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testRetryDelay = 5 * time.Millisecond
	waitFor        = 2 * time.Second
	tick           = 2 * time.Millisecond
)

var errRefused = errors.New("connection refused")

type staticCreds struct {
	mu    sync.Mutex
	token string
}

func (s *staticCreds) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticCreds) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// fakeConn is an in-memory Conn. The test pushes frames with deliver and
// simulates the server going away with drop.
type fakeConn struct {
	inbound   chan []byte
	gone      chan struct{}
	closeOnce sync.Once
	dropErr   error

	mu     sync.Mutex
	writes []string
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		gone:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.gone:
		if f.dropErr != nil {
			return nil, f.dropErr
		}
		return nil, ErrConnClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed conn")
	}
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.gone) })
	return nil
}

func (f *fakeConn) deliver(frame string) {
	f.inbound <- []byte(frame)
}

func (f *fakeConn) drop(err error) {
	f.dropErr = err
	f.closeOnce.Do(func() { close(f.gone) })
}

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out fakeConns, or fails while failing is set.
type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	urls    []string
	conns   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 64)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	failing := d.failing
	d.mu.Unlock()
	if failing {
		return nil, errRefused
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// recorder collects lifecycle and message events in dispatch order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(cat Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Category == cat {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type harness struct {
	ch     *Channel
	dialer *fakeDialer
	creds  *staticCreds
	rec    *recorder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		creds:  &staticCreds{token: "tok-123"},
		rec:    &recorder{},
	}
	opts := Options{
		URL:           "ws://campus.test/api/ws/notification",
		Credentials:   h.creds,
		Dialer:        h.dialer,
		RetryDelay:    testRetryDelay,
		ProbeInterval: time.Hour,
		Logger:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ch, err := New(opts)
	require.NoError(t, err)
	h.ch = ch

	for _, cat := range []Category{CategoryConnected, CategoryDisconnected, CategoryError} {
		ch.On(cat, h.rec.handle)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ch.State() == want }, waitFor, tick,
		"state never became %s (now %s)", want, h.ch.State())
}

func (h *harness) waitCount(t *testing.T, cat Category, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.rec.count(cat) >= n }, waitFor, tick,
		"expected %d %s events, got %d", n, cat, h.rec.count(cat))
}
