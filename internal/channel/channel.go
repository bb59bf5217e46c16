// Package channel maintains one logical, reconnecting subscription to the
// campus notification push stream and fans decoded events out to handlers.
//
// All connection state is owned by the goroutine running Channel.Run. Public
// methods post work to it, transport goroutines post inbound frames and close
// signals to it, and timers post their expiry to it, so every transition and
// every handler invocation happens in one strictly ordered sequence.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Defaults applied by New when the matching Options field is zero.
const (
	DefaultRetryBudget   = 5
	DefaultRetryDelay    = 3 * time.Second
	DefaultProbeInterval = 30 * time.Second
	DefaultProbePayload  = "ping"
)

// ErrAlreadyRunning is returned by Run when the Channel already has a dispatch loop.
var ErrAlreadyRunning = errors.New("channel: already running")

// State is the lifecycle state of a Channel.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CredentialStore supplies the current session token. An empty token means
// no user is logged in.
type CredentialStore interface {
	Token() string
}

// Options configures a Channel.
type Options struct {
	// URL is the websocket endpoint without credentials; the token is
	// attached as the "token" query parameter on every attempt.
	URL         string
	Credentials CredentialStore
	Dialer      Dialer

	RetryBudget   int
	RetryDelay    time.Duration
	ProbeInterval time.Duration
	ProbePayload  string

	Logger zerolog.Logger
}

// Channel is a persistent event channel. Create it with New, start Run in a
// goroutine, then call Connect once a session credential exists.
type Channel struct {
	opts     Options
	endpoint *url.URL
	logger   zerolog.Logger
	registry *registry

	mbox    *mailbox
	running atomic.Bool
	done    chan struct{}

	// Mirrors readable from any goroutine.
	stateMirror   atomic.Int32
	retriesMirror atomic.Int32

	// Owned by the Run goroutine.
	ctx        context.Context
	state      State
	retries    int
	gen        uint64
	conn       Conn
	probeStop  chan struct{}
	retryTimer *time.Timer
}

// New validates opts and returns an idle Channel.
func New(opts Options) (*Channel, error) {
	if opts.Credentials == nil {
		return nil, errors.New("channel: credentials are required")
	}
	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "channel: parse url %q", opts.URL)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, errors.Errorf("channel: url scheme must be ws or wss, got %q", endpoint.Scheme)
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	if opts.RetryBudget == 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	if opts.RetryBudget < 0 {
		return nil, errors.Errorf("channel: negative retry budget %d", opts.RetryBudget)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.ProbePayload == "" {
		opts.ProbePayload = DefaultProbePayload
	}

	c := &Channel{
		opts:     opts,
		endpoint: endpoint,
		logger:   opts.Logger.With().Str("component", "channel").Logger(),
		registry: newRegistry(),
		mbox:     newMailbox(),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	return c, nil
}

// Run executes the dispatch loop until ctx is cancelled. On exit it closes
// the connection and stops all timers without dispatching further events.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.teardown()

	c.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.mbox.signal:
			for _, fn := range c.mbox.drain() {
				fn()
			}
		}
	}
}

// Connect requests a connection. Without a credential it does nothing; while
// connecting or connected it does nothing. An explicit Connect starts a fresh
// retry budget.
func (c *Channel) Connect() {
	c.post(c.connect)
}

// Disconnect stops the probe, cancels any pending reconnect, and closes the
// connection. It is safe to call in any state and more than once.
func (c *Channel) Disconnect() {
	c.post(c.disconnect)
}

// Send writes v to the server if the channel is connected at the time the
// request is processed; otherwise it is dropped. Strings and byte slices are
// sent as-is, anything else is JSON encoded.
func (c *Channel) Send(v any) {
	data, err := encodeOutbound(v)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping unencodable outbound payload")
		return
	}
	c.post(func() {
		if c.state != StateConnected {
			c.logger.Debug().Str("state", c.state.String()).Msg("send dropped: not connected")
			return
		}
		c.write(data)
	})
}

// On registers h for cat. Registering the same function twice yields two
// independent subscriptions.
func (c *Channel) On(cat Category, h Handler) SubscriptionID {
	return c.registry.add(cat, h)
}

// Off removes the subscription id from cat. It affects only dispatches that
// start after the call.
func (c *Channel) Off(cat Category, id SubscriptionID) bool {
	return c.registry.remove(cat, id)
}

// IsConnected reports whether the channel is in StateConnected.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.stateMirror.Load())
}

// Retries returns the number of automatic reconnects since the last
// successful connection.
func (c *Channel) Retries() int {
	return int(c.retriesMirror.Load())
}

func (c *Channel) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.mbox.push(fn)
	return true
}

func (c *Channel) setState(s State) {
	if c.state != s {
		c.logger.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state transition")
	}
	c.state = s
	c.stateMirror.Store(int32(s))
}

func (c *Channel) setRetries(n int) {
	c.retries = n
	c.retriesMirror.Store(int32(n))
}

func (c *Channel) connect() {
	if c.opts.Credentials.Token() == "" {
		c.logger.Debug().Msg("no session credential, not connecting")
		return
	}
	switch c.state {
	case StateConnecting, StateConnected:
		return
	}
	c.stopRetry()
	c.setRetries(0)
	c.open()
}

func (c *Channel) open() {
	token := c.opts.Credentials.Token()
	if token == "" {
		c.logger.Info().Msg("session credential revoked, giving up")
		c.setState(StateClosed)
		return
	}

	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	target := c.withToken(token)
	c.logger.Debug().Str("url", c.endpoint.String()).Int("attempt", c.retries).Msg("dialing")

	ctx := c.ctx
	go func() {
		conn, err := c.opts.Dialer.Dial(ctx, target)
		if !c.post(func() { c.opened(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Channel) opened(gen uint64, conn Conn, err error) {
	if gen != c.gen || c.state != StateConnecting {
		// Superseded by Disconnect or a newer attempt.
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.lost(err)
		return
	}

	c.conn = conn
	c.setRetries(0)
	c.startProbe(gen)
	c.setState(StateConnected)
	go c.readLoop(gen, conn)

	c.logger.Info().Msg("connected")
	c.dispatch(Event{Category: CategoryConnected})
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.closed(gen, err) })
			return
		}
		if !c.post(func() { c.received(gen, data) }) {
			return
		}
	}
}

func (c *Channel) received(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	ev, err := decodeRecord(data)
	if err != nil {
		c.logger.Debug().Err(err).Bytes("data", data).Msg("dropping undecodable message")
		return
	}

	// Both lists are captured before any handler runs.
	var specific []subscription
	if ev.Tag != "" {
		specific = c.registry.snapshot(ev.Category)
	}
	wildcard := c.registry.snapshot(CategoryMessage)

	c.invokeAll(specific, ev)
	c.invokeAll(wildcard, ev)
}

func (c *Channel) closed(gen uint64, err error) {
	if gen != c.gen || c.state != StateConnected {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.lost(err)
}

// lost handles a failed attempt or a dropped connection.
func (c *Channel) lost(err error) {
	c.stopProbe()

	if err != nil && errors.Cause(err) != ErrConnClosed {
		c.logger.Warn().Err(err).Msg("transport failure")
		c.dispatch(Event{Category: CategoryError, Err: err})
	}
	c.dispatch(Event{Category: CategoryDisconnected, Err: err})

	if c.retries < c.opts.RetryBudget {
		c.setRetries(c.retries + 1)
		c.setState(StateReconnecting)
		c.logger.Info().
			Int("attempt", c.retries).
			Int("budget", c.opts.RetryBudget).
			Dur("delay", c.opts.RetryDelay).
			Msg("scheduling reconnect")
		c.scheduleRetry()
		return
	}

	c.logger.Warn().Int("budget", c.opts.RetryBudget).Msg("retry budget exhausted")
	c.setState(StateClosed)
}

func (c *Channel) scheduleRetry() {
	gen := c.gen
	c.retryTimer = time.AfterFunc(c.opts.RetryDelay, func() {
		c.post(func() { c.retry(gen) })
	})
}

// retry runs when a reconnect timer fires. The state and generation checks
// here are what make Disconnect authoritative over timers already in flight.
func (c *Channel) retry(gen uint64) {
	if gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.retryTimer = nil
	c.open()
}

func (c *Channel) disconnect() {
	wasConnected := c.state == StateConnected

	c.gen++
	c.stopProbe()
	c.stopRetry()
	c.setRetries(c.opts.RetryBudget)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setState(StateClosed)

	if wasConnected {
		c.logger.Info().Msg("disconnected by request")
		c.dispatch(Event{Category: CategoryDisconnected})
	}
}

func (c *Channel) teardown() {
	c.gen++
	c.stopProbe()
	c.stopRetry()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setState(StateClosed)
}

func (c *Channel) startProbe(gen uint64) {
	stop := make(chan struct{})
	c.probeStop = stop
	interval := c.opts.ProbeInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.done:
				return
			case <-ticker.C:
				if !c.post(func() { c.probe(gen) }) {
					return
				}
			}
		}
	}()
}

func (c *Channel) probe(gen uint64) {
	if gen != c.gen || c.state != StateConnected {
		return
	}
	c.write([]byte(c.opts.ProbePayload))
}

func (c *Channel) stopProbe() {
	if c.probeStop != nil {
		close(c.probeStop)
		c.probeStop = nil
	}
}

func (c *Channel) stopRetry() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Channel) write(data []byte) {
	if err := c.conn.WriteMessage(data); err != nil {
		// A broken connection surfaces through the reader.
		c.logger.Warn().Err(err).Msg("write failed")
	}
}

func (c *Channel) dispatch(ev Event) {
	c.invokeAll(c.registry.snapshot(ev.Category), ev)
}

// invokeAll gives every handler its own copy of the payload so one handler
// mutating it cannot change what the next one sees.
func (c *Channel) invokeAll(subs []subscription, ev Event) {
	for _, s := range subs {
		own := ev
		if ev.Payload != nil {
			own.Payload = json.RawMessage(bytes.Clone(ev.Payload))
		}
		c.invoke(s, own)
	}
}

// invoke isolates one handler: a panic is logged and dispatch continues with
// the next handler.
func (c *Channel) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("category", string(ev.Category)).
				Uint64("subscription", uint64(s.id)).
				Msg("event handler panicked")
		}
	}()
	s.handler(ev)
}

func (c *Channel) withToken(token string) string {
	u := *c.endpoint
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func encodeOutbound(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil
	default:
		data, err := json.Marshal(v)
		return data, errors.Wrap(err, "encode outbound payload")
	}
}

// mailbox is an unbounded FIFO of work for the Run goroutine. Pushing never
// blocks, so handlers may call Channel methods without deadlocking the loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
