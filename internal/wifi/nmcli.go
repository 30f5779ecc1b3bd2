package wifi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const scanTimeout = 12 * time.Second

// Network is one access point seen by a scan.
type Network struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal,omitempty"`
	Security string `json:"security,omitempty"`
}

// splitTerse splits one line of `nmcli -t` output. Fields are ':'
// separated; a backslash escapes ':' and '\' inside a field.
func splitTerse(line string) []string {
	fields := make([]string, 0, 4)
	var cur strings.Builder
	esc := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case esc:
			cur.WriteByte(c)
			esc = false
		case c == '\\':
			esc = true
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if esc {
		cur.WriteByte('\\')
	}
	return append(fields, cur.String())
}

// Scan lists nearby networks on iface, strongest first, one entry per SSID.
// Hidden networks are omitted.
func Scan(ctx context.Context, iface string) ([]Network, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	args := []string{"-t", "-f", "SSID,SIGNAL,SECURITY", "dev", "wifi", "list", "--rescan", "yes"}
	if iface != "" {
		args = append(args, "ifname", iface)
	}
	out, err := run(ctx, "nmcli", args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New("wifi: scan timed out")
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			if msg := strings.TrimSpace(string(ee.Stderr)); msg != "" {
				return nil, fmt.Errorf("wifi: nmcli: %s", msg)
			}
		}
		return nil, fmt.Errorf("wifi: nmcli: %w", err)
	}
	return parseScan(string(out))
}

func parseScan(out string) ([]Network, error) {
	best := map[string]Network{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := splitTerse(line)
		n := Network{SSID: strings.TrimSpace(parts[0])}
		if n.SSID == "" {
			continue
		}
		if len(parts) > 1 {
			n.Signal, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
		if len(parts) > 2 {
			n.Security = strings.TrimSpace(parts[2])
		}
		prev, seen := best[n.SSID]
		switch {
		case !seen || n.Signal > prev.Signal:
			if seen && n.Security == "" {
				n.Security = prev.Security
			}
			best[n.SSID] = n
		case prev.Security == "" && n.Security != "":
			prev.Security = n.Security
			best[n.SSID] = prev
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("wifi: parse scan: %w", err)
	}

	nets := make([]Network, 0, len(best))
	for _, n := range best {
		nets = append(nets, n)
	}
	sort.Slice(nets, func(i, j int) bool {
		if nets[i].Signal != nets[j].Signal {
			return nets[i].Signal > nets[j].Signal
		}
		return nets[i].SSID < nets[j].SSID
	})
	return nets, nil
}
