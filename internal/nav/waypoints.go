package nav

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"rtkrover/internal/geo"
)

// Waypoint is one target position in signed decimal degrees.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ParseWaypoints reads "lat,lon" lines. Blank lines and lines starting with
// '#' are ignored; malformed or out-of-range lines are skipped with a
// warning. It returns the waypoints and the number of skipped lines.
func ParseWaypoints(r io.Reader, logger *slog.Logger) ([]Waypoint, int) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		out     []Waypoint
		skipped int
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		wp, err := parseWaypoint(line)
		if err != nil {
			skipped++
			logger.Warn("skipping waypoint", "line", lineNo, "text", line, "err", err)
			continue
		}
		out = append(out, wp)
	}
	if err := sc.Err(); err != nil {
		logger.Warn("waypoint read stopped early", "line", lineNo, "err", err)
	}
	return out, skipped
}

func parseWaypoint(line string) (Waypoint, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Waypoint{}, fmt.Errorf("want lat,lon")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Waypoint{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Waypoint{}, fmt.Errorf("lon: %w", err)
	}
	if !geo.ValidLatLon(lat, lon) {
		return Waypoint{}, fmt.Errorf("out of range")
	}
	return Waypoint{Lat: lat, Lon: lon}, nil
}

// LoadWaypoints reads the waypoint file at path. A read failure returns an
// empty list with the error; callers keep running with zero waypoints.
func LoadWaypoints(path string, logger *slog.Logger) ([]Waypoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nav: open waypoints: %w", err)
	}
	defer f.Close()
	wps, _ := ParseWaypoints(f, logger)
	return wps, nil
}
