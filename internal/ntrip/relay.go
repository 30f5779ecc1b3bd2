package ntrip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrHandshake means the caster answered without the success token.
	ErrHandshake = errors.New("ntrip: handshake rejected")
	// ErrNotConnected is returned by Poll when there is no session.
	ErrNotConnected = errors.New("ntrip: not connected")
	// ErrRetriesExhausted is returned when every reconnect attempt failed.
	ErrRetriesExhausted = errors.New("ntrip: reconnect attempts exhausted")
)

const (
	DefaultPort          = 2101
	DefaultSuccessToken  = "ICY 200 OK"
	DefaultDialTimeout   = 2 * time.Second
	DefaultPollTimeout   = 50 * time.Millisecond
	DefaultSilenceWindow = 10 * time.Second
	DefaultAttempts      = 3
	DefaultRetryDelay    = 5 * time.Second
	DefaultReadBytes     = 1024
)

type Config struct {
	Host       string
	Port       int
	Mountpoint string
	Username   string
	Password   string
	UserAgent  string

	// SuccessToken must appear in the first response chunk.
	SuccessToken string

	// DialTimeout bounds the TCP connect and the handshake exchange.
	DialTimeout time.Duration
	// PollTimeout bounds each Poll read.
	PollTimeout time.Duration
	// SilenceWindow is how long an open session may go without data before
	// it is reported as disconnected.
	SilenceWindow time.Duration

	Attempts   int
	RetryDelay time.Duration
	ReadBytes  int

	Logger *slog.Logger
	Now    func() time.Time
	Dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Relay owns one caster session. Poll must only be called from a single
// goroutine; the other methods are safe for concurrent use.
type Relay struct {
	cfg  Config
	addr string
	log  *slog.Logger
	buf  []byte

	mu          sync.Mutex
	conn        net.Conn
	connected   bool
	pending     []byte
	state       string
	lastErr     string
	lastRx      time.Time
	connectedAt time.Time
	bytesIn     uint64
	attempts    uint64
	connects    uint64
}

type Snapshot struct {
	Addr         string `json:"addr"`
	Mountpoint   string `json:"mountpoint"`
	State        string `json:"state"`
	Connected    bool   `json:"connected"`
	LastError    string `json:"last_error,omitempty"`
	LastRxUTC    string `json:"last_rx_utc,omitempty"`
	ConnectedUTC string `json:"connected_utc,omitempty"`
	Bytes        uint64 `json:"bytes"`
	Attempts     uint64 `json:"attempts"`
	Connects     uint64 `json:"connects"`
}

func New(cfg Config) (*Relay, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ntrip: host is required")
	}
	if cfg.Mountpoint == "" {
		return nil, fmt.Errorf("ntrip: mountpoint is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.SuccessToken == "" {
		cfg.SuccessToken = DefaultSuccessToken
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = DefaultSilenceWindow
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.ReadBytes <= 0 {
		cfg.ReadBytes = DefaultReadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	return &Relay{
		cfg:   cfg,
		addr:  net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		log:   cfg.Logger.With("component", "ntrip"),
		buf:   make([]byte, cfg.ReadBytes),
		state: "stopped",
	}, nil
}

// Connect performs one dial and handshake. A cancelled ctx aborts the
// exchange immediately.
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	r.attempts++
	r.state = "connecting"
	r.mu.Unlock()

	conn, rest, err := r.handshake(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		r.setError(err)
		return err
	}

	now := r.cfg.Now()
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = conn
	r.connected = true
	r.pending = rest
	r.lastRx = now
	r.connectedAt = now
	r.connects++
	r.state = "connected"
	r.lastErr = ""
	r.mu.Unlock()

	r.log.Info("caster connected", "addr", r.addr, "mountpoint", r.cfg.Mountpoint)
	return nil
}

func (r *Relay) handshake(ctx context.Context) (net.Conn, []byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	conn, err := r.cfg.Dial(dialCtx, "tcp", r.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("ntrip: dial %s: %w", r.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(r.cfg.DialTimeout))
	req := BuildRequest(r.cfg.Mountpoint, r.cfg.Username, r.cfg.Password, r.cfg.UserAgent)
	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ntrip: send request: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ntrip: read response: %w", err)
	}
	chunk := buf[:n]
	tok := bytes.Index(chunk, []byte(r.cfg.SuccessToken))
	if tok < 0 {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: %q", ErrHandshake, firstLine(chunk))
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, afterHeader(chunk, tok), nil
}

// afterHeader returns a copy of any bytes that followed the response header
// in the first chunk. Casters may start streaming RTCM immediately.
func afterHeader(chunk []byte, tok int) []byte {
	var rest []byte
	if i := bytes.Index(chunk, []byte("\r\n\r\n")); i >= 0 {
		rest = chunk[i+4:]
	} else if i := bytes.Index(chunk[tok:], []byte("\r\n")); i >= 0 {
		rest = chunk[tok+i+2:]
	}
	if len(rest) == 0 {
		return nil
	}
	return append([]byte(nil), rest...)
}

func firstLine(b []byte) string {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		b = b[:i]
	}
	if len(b) > 80 {
		b = b[:80]
	}
	return string(b)
}

// ConnectWithRetry runs the bounded reconnect policy: up to Attempts
// handshakes separated by RetryDelay.
func (r *Relay) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		err := r.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		r.log.Warn("caster connect failed", "attempt", attempt, "of", r.cfg.Attempts, "err", err)
		if attempt < r.cfg.Attempts && !sleepCtx(ctx, r.cfg.RetryDelay) {
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.state = "failed"
	r.mu.Unlock()
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.cfg.Attempts, lastErr)
}

// Poll makes one bounded read. Received bytes refresh liveness; the slice is
// only valid until the next Poll. A read timeout returns (nil, nil). A socket
// error tears the session down and is returned.
func (r *Relay) Poll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.pending) > 0 {
		n := copy(r.buf, r.pending)
		r.pending = r.pending[n:]
		r.lastRx = r.cfg.Now()
		r.bytesIn += uint64(n)
		r.mu.Unlock()
		return r.buf[:n], nil
	}
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.PollTimeout))
	n, err := conn.Read(r.buf)
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		// Replaced or closed while reading.
		return nil, nil
	}
	if n > 0 {
		r.lastRx = now
		r.bytesIn += uint64(n)
		if !r.connected {
			r.connected = true
			r.state = "connected"
		}
		return r.buf[:n], nil
	}
	if err != nil && !isTimeout(err) {
		_ = conn.Close()
		r.conn = nil
		r.connected = false
		r.state = "disconnected"
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			r.lastErr = "closed by caster"
		} else {
			r.lastErr = err.Error()
		}
		return nil, fmt.Errorf("ntrip: read: %w", err)
	}
	if r.connected && now.Sub(r.lastRx) > r.cfg.SilenceWindow {
		r.connected = false
		r.state = "silent"
		r.log.Warn("caster silent", "since", r.lastRx, "window", r.cfg.SilenceWindow)
	}
	return nil, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Connected reports a live session: open and not silent.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && r.conn != nil
}

// HasSession reports whether a socket is open, live or not.
func (r *Relay) HasSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Close tears the session down. The relay can Connect again afterwards.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.conn != nil {
		err = r.conn.Close()
		r.conn = nil
	}
	r.connected = false
	r.pending = nil
	r.state = "stopped"
	return err
}

func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		Addr:       r.addr,
		Mountpoint: r.cfg.Mountpoint,
		State:      r.state,
		Connected:  r.connected && r.conn != nil,
		LastError:  r.lastErr,
		Bytes:      r.bytesIn,
		Attempts:   r.attempts,
		Connects:   r.connects,
	}
	if !r.lastRx.IsZero() {
		out.LastRxUTC = r.lastRx.UTC().Format(time.RFC3339Nano)
	}
	if !r.connectedAt.IsZero() {
		out.ConnectedUTC = r.connectedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (r *Relay) setError(err error) {
	r.mu.Lock()
	r.state = "error"
	r.lastErr = err.Error()
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
