package gps

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const defaultParserBufferBytes = 4096

// Parser reassembles newline-terminated records from an arbitrarily chunked
// byte stream and decodes them.
//
// The receive buffer is allocated once with a fixed capacity. A trailing
// incomplete record is always kept and completed by the next Feed.
//
// Not safe for concurrent use.
type Parser struct {
	buf []byte
	now func() time.Time
	log *slog.Logger

	stats ParserStats
}

// ParserStats counts what the parser has seen since it was created.
type ParserStats struct {
	Records  uint64 `json:"records"`
	Decoded  uint64 `json:"decoded"`
	Rejected uint64 `json:"rejected"`
	Resyncs  uint64 `json:"resyncs"`
}

type ParserOption func(*Parser)

// WithBufferSize sets the receive buffer capacity in bytes.
func WithBufferSize(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.buf = make([]byte, 0, n)
		}
	}
}

// WithClock overrides the time source used to stamp updates.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.log = l
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		buf: make([]byte, 0, defaultParserBufferBytes),
		now: time.Now,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Feed appends b to the receive buffer and returns the updates decoded from
// every record completed by it.
func (p *Parser) Feed(b []byte) []Update {
	return p.AppendFeed(nil, b)
}

// AppendFeed is Feed appending into dst, so callers can reuse a slice.
func (p *Parser) AppendFeed(dst []Update, b []byte) []Update {
	for len(b) > 0 {
		if len(p.buf) == cap(p.buf) {
			p.resync()
		}
		n := copy(p.buf[len(p.buf):cap(p.buf)], b)
		p.buf = p.buf[:len(p.buf)+n]
		b = b[n:]
		dst = p.drain(dst)
	}
	return dst
}

// Buffered returns the number of bytes held for an incomplete record.
func (p *Parser) Buffered() int { return len(p.buf) }

func (p *Parser) Stats() ParserStats { return p.stats }

// drain decodes every complete record in the buffer, leaving any remainder.
func (p *Parser) drain(dst []Update) []Update {
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i == -1 {
			return dst
		}
		dst = p.handleRecord(dst, string(p.buf[:i+1]))
		rest := copy(p.buf, p.buf[i+1:])
		p.buf = p.buf[:rest]
	}
}

// resync makes room in a full buffer that holds no terminator. Everything
// before the last start marker is garbage; if the marker is at the front
// the record is longer than the buffer and is dropped too.
func (p *Parser) resync() {
	p.stats.Resyncs++
	keep := bytes.LastIndexByte(p.buf, '$')
	if keep <= 0 {
		p.log.Debug("gps framing resync", slog.Int("dropped_bytes", len(p.buf)))
		p.buf = p.buf[:0]
		return
	}
	p.log.Debug("gps framing resync", slog.Int("dropped_bytes", keep))
	rest := copy(p.buf, p.buf[keep:])
	p.buf = p.buf[:rest]
}

// handleRecord decodes one terminated record. A stray '$' inside a record
// starts a new one, so a line is split on every start marker. Text ahead of
// the first marker is a fragment and is ignored.
func (p *Parser) handleRecord(dst []Update, rec string) []Update {
	parts := strings.Split(rec, "$")
	for _, body := range parts[1:] {
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		p.stats.Records++
		u, err := decodeRecord(body, p.now())
		if err != nil {
			p.stats.Rejected++
			if !errors.Is(err, ErrUnsupportedSentence) {
				p.log.Debug("gps record dropped", slog.String("err", err.Error()), slog.String("record", body))
			}
			continue
		}
		p.stats.Decoded++
		dst = append(dst, u)
	}
	return dst
}
