package ntrip

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// caster is a loopback NTRIP caster. Each accepted connection reads the
// request header, records it, and hands the conn to serve.
type caster struct {
	ln       net.Listener
	requests chan string
}

func startCaster(t *testing.T, serve func(conn net.Conn)) *caster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &caster{ln: ln, requests: make(chan string, 8)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				br := bufio.NewReader(conn)
				var req strings.Builder
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						_ = conn.Close()
						return
					}
					req.WriteString(line)
					if line == "\r\n" {
						break
					}
				}
				c.requests <- req.String()
				serve(conn)
			}()
		}
	}()
	return c
}

func (c *caster) port(t *testing.T) int {
	_, p, err := net.SplitHostPort(c.ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func testConfig(t *testing.T, port int, clock *fakeClock) Config {
	cfg := Config{
		Host:        "127.0.0.1",
		Port:        port,
		Mountpoint:  "MOUNT",
		Username:    "rover",
		Password:    "secret",
		PollTimeout: 20 * time.Millisecond,
		RetryDelay:  time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return cfg
}

func newTestRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func pollUntil(t *testing.T, r *Relay, want int) []byte {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		b, err := r.Poll(context.Background())
		require.NoError(t, err)
		got = append(got, b...)
	}
	return got
}

func TestRelay_HandshakeAndForward(t *testing.T) {
	release := make(chan struct{})
	c := startCaster(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = conn.Write([]byte("ICY 200 OK\r\n\r\n\xd3\x00\x01"))
		<-release
		_, _ = conn.Write([]byte("\xd3\x00\x02rt"))
		<-release
	})
	t.Cleanup(func() { close(release) })

	r := newTestRelay(t, testConfig(t, c.port(t), nil))
	require.NoError(t, r.Connect(context.Background()))
	require.True(t, r.Connected())

	req := <-c.requests
	require.True(t, strings.HasPrefix(req, "GET /MOUNT HTTP/1.0\r\n"))
	i := strings.Index(req, "Authorization: Basic ")
	require.GreaterOrEqual(t, i, 0)
	enc := strings.TrimSpace(strings.SplitN(req[i+len("Authorization: Basic "):], "\r\n", 2)[0])
	u, p, err := DecodeBasicAuth(enc)
	require.NoError(t, err)
	require.Equal(t, "rover", u)
	require.Equal(t, "secret", p)

	// Bytes that arrived with the header come out first.
	b, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("\xd3\x00\x01"), b)

	// Nothing more yet: a timeout is not an error.
	b, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, b)
	require.True(t, r.Connected())

	release <- struct{}{}
	require.Equal(t, []byte("\xd3\x00\x02rt"), pollUntil(t, r, 5))

	snap := r.Snapshot()
	require.Equal(t, "connected", snap.State)
	require.Equal(t, uint64(8), snap.Bytes)
	require.Equal(t, uint64(1), snap.Connects)
}

func TestRelay_HandshakeRejected(t *testing.T) {
	c := startCaster(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("HTTP/1.1 401 Unauthorized\r\n\r\n"))
		_ = conn.Close()
	})

	r := newTestRelay(t, testConfig(t, c.port(t), nil))
	err := r.Connect(context.Background())
	require.ErrorIs(t, err, ErrHandshake)
	require.Contains(t, err.Error(), "401")
	require.False(t, r.Connected())

	_, err = r.Poll(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, "error", r.Snapshot().State)
}

func TestRelay_SilenceDemotesLiveness(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	c := startCaster(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
		<-hold
	})

	clock := &fakeClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRelay(t, testConfig(t, c.port(t), clock))
	require.NoError(t, r.Connect(context.Background()))

	clock.Advance(9999 * time.Millisecond)
	b, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, b)
	require.True(t, r.Connected())

	clock.Advance(2 * time.Millisecond) // 10,001 ms since the handshake
	b, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, b)
	require.False(t, r.Connected())
	require.True(t, r.HasSession())
	require.Equal(t, "silent", r.Snapshot().State)
}

func TestRelay_SocketErrorClosesSession(t *testing.T) {
	c := startCaster(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
		_ = conn.Close()
	})

	r := newTestRelay(t, testConfig(t, c.port(t), nil))
	require.NoError(t, r.Connect(context.Background()))

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = r.Poll(context.Background())
	}
	require.Error(t, err)
	require.False(t, r.Connected())
	require.False(t, r.HasSession())
	require.Equal(t, "disconnected", r.Snapshot().State)
}

func TestRelay_RetryExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	r := newTestRelay(t, testConfig(t, addr.Port, nil))
	err = r.ConnectWithRetry(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)

	snap := r.Snapshot()
	require.Equal(t, uint64(3), snap.Attempts)
	require.Equal(t, "failed", snap.State)
	require.NotEmpty(t, snap.LastError)
}

func TestRelay_RetrySucceedsAfterRejection(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := startCaster(t, func(conn net.Conn) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			_, _ = conn.Write([]byte("SOURCETABLE 200 OK\r\n"))
			_ = conn.Close()
			return
		}
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
	})

	r := newTestRelay(t, testConfig(t, c.port(t), nil))
	require.NoError(t, r.ConnectWithRetry(context.Background()))
	require.True(t, r.Connected())
	require.Equal(t, uint64(2), r.Snapshot().Attempts)
}

func TestRelay_CancelAbortsHandshake(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	c := startCaster(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold // never answer
	})

	cfg := testConfig(t, c.port(t), nil)
	cfg.DialTimeout = 10 * time.Second
	cfg.RetryDelay = time.Hour
	r := newTestRelay(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := r.ConnectWithRetry(ctx)
	require.True(t, errors.Is(err, context.Canceled), "err=%v", err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, r.Connected())
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Mountpoint: "M"})
	require.Error(t, err)
	_, err = New(Config{Host: "h"})
	require.Error(t, err)

	r, err := New(Config{Host: "h", Mountpoint: "M"})
	require.NoError(t, err)
	require.Equal(t, "h:2101", r.Snapshot().Addr)
	require.Equal(t, "stopped", r.Snapshot().State)
}
