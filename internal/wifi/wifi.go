// Package wifi reports the station link state of the rover's wireless
// interface. Association itself is left to NetworkManager.
package wifi

import (
	"context"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"
)

const DefaultInterface = "wlan0"

// LinkState is the station-side view of one interface.
type LinkState struct {
	Up   bool   `json:"connected"`
	SSID string `json:"ssid,omitempty"`
	IP   string `json:"ip,omitempty"`
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

var (
	run         commandRunner = runCommand
	lookupIface               = interfaceIPv4
	probeFn                   = Probe
)

// Probe reads the interface address and the SSID of the active wireless
// connection on iface. Missing tools or interfaces yield a down state.
func Probe(ctx context.Context, iface string) LinkState {
	if iface == "" {
		iface = DefaultInterface
	}
	var st LinkState
	ip, up := lookupIface(iface)
	st.IP = ip
	st.SSID = activeSSID(ctx, iface)
	st.Up = up && ip != ""
	return st
}

// interfaceIPv4 returns the first routable IPv4 address of iface and whether
// the interface is administratively up.
func interfaceIPv4(name string) (string, bool) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return "", false
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return "", ifc.Flags&net.FlagUp != 0
	}
	return firstIPv4(addrs), ifc.Flags&net.FlagUp != 0
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		return ip4.String()
	}
	return ""
}

func activeSSID(ctx context.Context, iface string) string {
	out, err := run(ctx, "nmcli", "-t", "-f", "NAME,TYPE,DEVICE,STATE", "con", "show", "--active")
	if err == nil {
		if name, ok := activeConnection(string(out), iface); ok {
			if ssid := lookupConnectionSSID(ctx, name); ssid != "" {
				return ssid
			}
			return name
		}
	}
	// Systems without NetworkManager.
	if out, err := run(ctx, "iwgetid", "-r", iface); err == nil {
		return strings.TrimSpace(string(out))
	}
	return ""
}

// activeConnection finds the activated 802-11-wireless connection bound to
// iface in `nmcli -t -f NAME,TYPE,DEVICE,STATE con show --active` output.
func activeConnection(out, iface string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		parts := splitTerse(strings.TrimSpace(line))
		if len(parts) < 4 {
			continue
		}
		if parts[2] != iface || parts[1] != "802-11-wireless" {
			continue
		}
		if parts[3] != "activated" {
			continue
		}
		return parts[0], true
	}
	return "", false
}

func lookupConnectionSSID(ctx context.Context, connName string) string {
	if strings.TrimSpace(connName) == "" {
		return ""
	}
	out, err := run(ctx, "nmcli", "-g", "802-11-wireless.ssid", "connection", "show", connName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Monitor probes iface every interval and hands each state to sink until
// ctx is done. Transitions are logged.
func Monitor(ctx context.Context, iface string, interval time.Duration, sink func(LinkState), logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	var last LinkState
	first := true
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st := probeFn(ctx, iface)
		if first || st != last {
			if st.Up {
				logger.Info("wifi link up", "iface", iface, "ssid", st.SSID, "ip", st.IP)
			} else {
				logger.Warn("wifi link down", "iface", iface)
			}
		}
		first, last = false, st
		if sink != nil {
			sink(st)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
