// Package ntrip relays RTCM correction bytes from an NTRIP caster to the
// receiver.
package ntrip

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const DefaultUserAgent = "NTRIP rtkrover"

// EncodeBasicAuth returns the base64 credentials for an Authorization: Basic
// header.
func EncodeBasicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// DecodeBasicAuth reverses EncodeBasicAuth. The password may contain ':'.
func DecodeBasicAuth(s string) (user, pass string, err error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", "", fmt.Errorf("ntrip: decode auth: %w", err)
	}
	u, p, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("ntrip: decode auth: missing ':'")
	}
	return u, p, nil
}

// BuildRequest renders the NTRIP v1 mountpoint request.
func BuildRequest(mountpoint, user, pass, agent string) []byte {
	if agent == "" {
		agent = DefaultUserAgent
	}
	mountpoint = strings.TrimPrefix(mountpoint, "/")
	var b strings.Builder
	b.WriteString("GET /" + mountpoint + " HTTP/1.0\r\n")
	b.WriteString("User-Agent: " + agent + "\r\n")
	b.WriteString("Authorization: Basic " + EncodeBasicAuth(user, pass) + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}
