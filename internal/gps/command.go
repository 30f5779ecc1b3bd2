package gps

import (
	"context"
	"log/slog"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

const maxCommandReply = 4096

// EncodeCommand frames a configuration command as "$<body>*<XX>\r\n" where
// XX is the XOR of every body byte as two uppercase hex digits.
func EncodeCommand(body string) []byte {
	body = strings.TrimPrefix(body, "$")
	return []byte("$" + body + "*" + nmea.Checksum(body) + "\r\n")
}

// SendCommand writes a framed command and collects whatever text the
// receiver sends back during wait. It never fails: a write error or a
// silent receiver both yield "".
func (r *Receiver) SendCommand(ctx context.Context, body string, wait time.Duration) string {
	if r == nil {
		return ""
	}
	cmd := EncodeCommand(body)
	if _, err := r.Write(cmd); err != nil {
		r.log.Warn("gps command write failed", slog.String("cmd", strings.TrimSpace(string(cmd))), slog.String("err", err.Error()))
		return ""
	}

	deadline := time.Now().Add(wait)
	var reply []byte
	for time.Now().Before(deadline) {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		n, err := r.link.Read(r.scratch)
		if n > 0 && len(reply) < maxCommandReply {
			reply = append(reply, r.scratch[:n]...)
		}
		if err != nil && !isIdleReadErr(err) {
			break
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	text := asciiOnly(reply)
	if text != "" {
		r.log.Debug("gps command reply", slog.String("cmd", body), slog.String("reply", strings.TrimSpace(text)))
	}
	return text
}

// DisablePPS turns the receiver's pulse-per-second output off. It tries the
// PAIR752 command first and falls back to PQTMCFGPPS for firmware that only
// speaks PQTM. It reports whether the PAIR command was acknowledged.
func (r *Receiver) DisablePPS(ctx context.Context, wait time.Duration) bool {
	txt := r.SendCommand(ctx, "PAIR752,0,0", wait)
	if strings.Contains(txt, "$PAIR001,752,0") {
		r.log.Info("gps pps disabled")
		return true
	}

	r.log.Info("gps PAIR752 not acknowledged, trying PQTM fallback")
	txt = r.SendCommand(ctx, "PQTMCFGPPS,W,1,0,100,1,1,0", wait)
	if strings.Contains(txt, "$PQTMCFGPPS") || strings.Contains(txt, "OK") {
		r.log.Info("gps PQTM pps fallback sent")
	}
	return false
}

func asciiOnly(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
