package tsstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Default I/O bounds. Every connect, read and write is capped by one of them.
const (
	// defaultConnectTimeout bounds dialling the endpoint.
	defaultConnectTimeout = 5 * time.Second

	// defaultReadTimeout bounds each response line.
	defaultReadTimeout = 5 * time.Second

	// defaultWriteTimeout bounds each request line.
	defaultWriteTimeout = 5 * time.Second

	// maxResponseLine is the read buffer size. Responses are short status
	// lines; anything longer means the stream is out of step.
	maxResponseLine = 4096
)

// Config holds the connection settings for a Client.
type Config struct {
	// Endpoint is the store socket. Supported formats:
	//   - "/run/tsstore.sock" or "unix:///run/tsstore.sock" (Unix socket)
	//   - "tcp://localhost:7070" (TCP, for test rigs)
	Endpoint string

	// StoreName and APIKey are sent in the AUTH line.
	StoreName string
	APIKey    string

	// Default: 5 seconds each.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect delay.
	// Default: 1 second and 60 seconds.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	State         State
	Acked         uint64 // successfully acknowledged writes
	Failures      uint64 // transitions into Failed
	Connects      uint64 // successful authenticated connections
	LastTimestamp int64  // timestamp from the last ack
	LastAck       time.Time
	LastError     string
	Backoff       time.Duration // delay the next reconnect will wait
}

// Client is the streaming-write client for one tsstore endpoint.
type Client struct {
	cfg     Config
	network string
	address string
	dialer  Dialer
	backoff *Backoff

	// Owned by the driving goroutine.
	conn   net.Conn
	reader *bufio.Reader

	state atomic.Int32

	onStateChange func(from, to State)
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	acked         atomic.Uint64
	failures      atomic.Uint64
	connects      atomic.Uint64
	lastTimestamp atomic.Int64
	lastAck       atomic.Int64 // unix nanoseconds

	lastErr   string
	lastErrMu sync.Mutex
}

// New creates a Client in the Disconnected state. No connection is made
// until Connect is called. A nil dialer uses net.Dialer.
func New(cfg Config, dialer Dialer) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	network, address, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := validateCredential("store name", cfg.StoreName); err != nil {
		return nil, err
	}
	if err := validateCredential("api key", cfg.APIKey); err != nil {
		return nil, err
	}

	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &Client{
		cfg:     cfg,
		network: network,
		address: address,
		dialer:  dialer,
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
	}, nil
}

// parseEndpoint splits an endpoint into network and address.
func parseEndpoint(endpoint string) (network, address string, err error) {
	if endpoint == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	if !strings.Contains(endpoint, "://") {
		return "unix", endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("%w: missing socket path", ErrInvalidEndpoint)
		}
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q (use unix or tcp)", ErrInvalidEndpoint, u.Scheme)
	}
}

func validateCredential(what, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidCredentials, what)
	}
	if strings.ContainsFunc(v, unicode.IsSpace) {
		return fmt.Errorf("%w: %s contains whitespace", ErrInvalidCredentials, what)
	}
	return nil
}

// Connect dials the endpoint and authenticates. On success the client is
// Ready and the backoff is reset. On failure the transport has already been
// released and the client is Failed; the caller waits NextRetryDelay before
// trying again.
//
// Calling Connect on a Ready client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	switch c.State() {
	case StateTerminated:
		return ErrTerminated
	case StateReady:
		return nil
	case StateFailed:
		c.release()
		if err := c.transition(StateDisconnected); err != nil {
			return err
		}
	}

	if err := c.transition(StateConnecting); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, c.network, c.address)
	if err != nil {
		return c.fail(&Error{
			Kind: classify(err),
			Op:   "connect",
			Err:  fmt.Errorf("dial %s://%s: %w", c.network, c.address, err),
		})
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, maxResponseLine)

	if err := c.transition(StateAuthenticating); err != nil {
		c.release()
		return err
	}

	if err := c.writeLine(EncodeAuth(c.cfg.StoreName, c.cfg.APIKey)); err != nil {
		return c.fail(&Error{Kind: classify(err), Op: "auth", Err: err})
	}
	line, err := c.readLine()
	if err != nil {
		return c.fail(&Error{Kind: classify(err), Op: "auth", Err: err})
	}
	if err := parseAuthResponse(line); err != nil {
		return c.fail(&Error{Kind: KindProtocol, Op: "auth", Err: err})
	}

	if err := c.transition(StateReady); err != nil {
		c.release()
		return err
	}
	c.backoff.Reset()
	c.connects.Add(1)
	c.logInfo("connected to tsstore", "endpoint", c.cfg.Endpoint, "store", c.cfg.StoreName)
	return nil
}

// Write sends one record and waits for its acknowledgement, returning the
// server timestamp. The client must be Ready; otherwise ErrNotReady is
// returned without touching the transport.
//
// Any transport, timeout or protocol failure moves the client to Failed and
// the record is dropped. A record that cannot be encoded is rejected with
// ErrInvalidRecord and leaves the connection as it was.
//
// ctx is only checked before the exchange starts. An exchange in flight is
// bounded by the I/O timeouts.
func (c *Client) Write(ctx context.Context, rec Record) (int64, error) {
	switch c.State() {
	case StateReady:
	case StateTerminated:
		return 0, ErrTerminated
	default:
		return 0, ErrNotReady
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	line, err := EncodeRecord(rec)
	if err != nil {
		return 0, err
	}

	if err := c.writeLine(line); err != nil {
		return 0, c.fail(&Error{Kind: classify(err), Op: "write", Err: err})
	}
	resp, err := c.readLine()
	if err != nil {
		return 0, c.fail(&Error{Kind: classify(err), Op: "write", Err: err})
	}
	ts, err := parseWriteAck(resp)
	if err != nil {
		return 0, c.fail(&Error{Kind: KindProtocol, Op: "write", Err: err})
	}

	if err := c.transition(StateReady); err != nil {
		return 0, err
	}
	c.acked.Add(1)
	c.lastTimestamp.Store(ts)
	c.lastAck.Store(time.Now().UnixNano())
	return ts, nil
}

// Shutdown moves the client to Terminated. If a connection is live it sends
// a best-effort QUIT, without waiting for a reply, then closes the
// transport. Safe to call more than once and from any state.
func (c *Client) Shutdown() error {
	if c.State() == StateTerminated {
		return nil
	}

	if c.conn != nil {
		//nolint:errcheck // best effort, the connection is closed regardless
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if _, err := c.conn.Write([]byte(quitLine)); err != nil {
			c.logDebug("quit not delivered", "error", err)
		}
	}
	c.release()

	if err := c.transition(StateTerminated); err != nil {
		return err
	}
	c.logInfo("tsstore client terminated", "acked", c.acked.Load())
	return nil
}

// Abort drops a live or half-open connection and moves the client to
// Failed, recording err as a transport failure. It is a no-op when no
// connection attempt is in progress.
func (c *Client) Abort(err error) error {
	switch c.State() {
	case StateConnecting, StateAuthenticating, StateReady:
		if _, ok := KindOf(err); !ok {
			err = &Error{Kind: KindTransport, Op: "abort", Err: err}
		}
		return c.fail(err)
	default:
		return nil
	}
}

// NextRetryDelay returns how long to wait before the next reconnect attempt
// and doubles the delay for the attempt after it, up to the cap.
func (c *Client) NextRetryDelay() time.Duration {
	return c.backoff.Next()
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	s := Stats{
		State:         c.State(),
		Acked:         c.acked.Load(),
		Failures:      c.failures.Load(),
		Connects:      c.connects.Load(),
		LastTimestamp: c.lastTimestamp.Load(),
		Backoff:       c.backoff.Current(),
	}
	if ns := c.lastAck.Load(); ns != 0 {
		s.LastAck = time.Unix(0, ns)
	}
	c.lastErrMu.Lock()
	s.LastError = c.lastErr
	c.lastErrMu.Unlock()
	return s
}

// SetOnStateChange sets a callback invoked on every state change. The
// Ready self-loop after each write is not reported. The callback runs on
// the goroutine driving the client and must not call back into it.
func (c *Client) SetOnStateChange(callback func(from, to State)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// transition moves to a new state if the edge is allowed.
func (c *Client) transition(to State) error {
	for {
		from := c.State()
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			if from != to {
				c.notify(from, to)
			}
			return nil
		}
	}
}

func (c *Client) notify(from, to State) {
	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()

	if callback != nil {
		callback(from, to)
	}
}

// fail releases the transport, records err and enters Failed.
func (c *Client) fail(err error) error {
	c.release()
	c.failures.Add(1)

	c.lastErrMu.Lock()
	c.lastErr = err.Error()
	c.lastErrMu.Unlock()

	if tErr := c.transition(StateFailed); tErr != nil {
		return errors.Join(err, tErr)
	}
	c.logError("tsstore connection failed", err)
	return err
}

// release closes the transport, if any. Close errors are ignored.
func (c *Client) release() {
	if c.conn == nil {
		return
	}
	c.conn.Close() //nolint:errcheck // nothing useful to do with a close error
	c.conn = nil
	c.reader = nil
}

func (c *Client) writeLine(line []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLine reads one response line, newline included.
func (c *Client) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", ErrResponseTooLong
	}
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return string(line), nil
}

// classify maps an I/O error onto a Kind.
func classify(err error) Kind {
	if errors.Is(err, ErrResponseTooLong) {
		return KindProtocol
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		kind, _ := KindOf(err)
		logger.Error(msg, "error", err, "kind", kind.String())
	}
}
