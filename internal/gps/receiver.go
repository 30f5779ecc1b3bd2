package gps

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
)

const readChunkBytes = 512

// Receiver joins the serial link to the parser. Reads happen only from the
// control loop; writes (corrections and commands) are serialized.
type Receiver struct {
	link   io.ReadWriter
	parser *Parser
	log    *slog.Logger

	scratch []byte

	wmu          sync.Mutex
	bytesWritten uint64
}

func NewReceiver(link io.ReadWriter, parser *Parser, logger *slog.Logger) *Receiver {
	if parser == nil {
		parser = NewParser(WithLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		link:    link,
		parser:  parser,
		log:     logger,
		scratch: make([]byte, readChunkBytes),
	}
}

// Poll performs one bounded read and returns the updates it completed.
// A read that times out with no data is not an error.
func (r *Receiver) Poll() ([]Update, error) {
	n, err := r.link.Read(r.scratch)
	var out []Update
	if n > 0 {
		out = r.parser.Feed(r.scratch[:n])
	}
	if err != nil && !isIdleReadErr(err) {
		return out, err
	}
	return out, nil
}

// Write sends bytes to the receiver verbatim. Correction data goes out
// through here.
func (r *Receiver) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	n, err := r.link.Write(p)
	r.bytesWritten += uint64(n)
	return n, err
}

func (r *Receiver) BytesWritten() uint64 {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.bytesWritten
}

func (r *Receiver) Parser() *Parser { return r.parser }

// With VMIN=0 a serial read that times out returns 0, io.EOF.
func isIdleReadErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)
}
