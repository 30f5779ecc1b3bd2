// Package web serves the rover's status, track and operator controls over
// HTTP and a WebSocket status feed.
package web

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rtkrover/internal/track"
)

var upgrader = websocket.Upgrader{
	// The UI is served from the rover itself; browsers on the field network
	// reach it by IP.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 2 * time.Second

// Handler builds the HTTP surface. tracks, logs, feed and shutdown may be
// nil; their endpoints then answer 404.
func Handler(status *Status, tracks *track.Store, logs *LogBuffer, feed *Broadcaster, shutdown func()) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now()))
	})

	mux.HandleFunc("/api/track", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if tracks == nil {
			http.NotFound(w, r)
			return
		}
		b, err := tracks.MarshalGeoJSON()
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
	})

	mux.HandleFunc("/api/steering", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch state := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state"))); state {
		case "":
			if r.Method == http.MethodPost {
				http.Error(w, "state must be on or off", http.StatusBadRequest)
				return
			}
		case "on":
			status.SetSteeringEnabled(true)
			slog.Info("steering enabled by operator", "remote", r.RemoteAddr)
		case "off":
			status.SetSteeringEnabled(false)
			slog.Info("steering disabled by operator", "remote", r.RemoteAddr)
		default:
			http.Error(w, "state must be on or off", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"steering_enabled": status.SteeringEnabled()})
	})

	mux.HandleFunc("/api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if shutdown == nil {
			http.NotFound(w, r)
			return
		}
		slog.Warn("shutdown requested", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
		shutdown()
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.HandleFunc("/api/about", aboutHandler(status))
	mux.HandleFunc("/api/wifi/networks", networksHandler)

	mux.HandleFunc("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		if feed == nil {
			http.NotFound(w, r)
			return
		}
		serveStatusFeed(w, r, feed)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeStatusPage(w, status.Snapshot(time.Now()))
	})

	return mux
}

// serveStatusFeed upgrades to a WebSocket and pushes every published
// snapshot as JSON until either side goes away.
func serveStatusFeed(w http.ResponseWriter, r *http.Request, feed *Broadcaster) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id, ch := feed.Subscribe(4)
	defer feed.Unsubscribe(id)

	// Reader drains control frames and notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

func writeStatusPage(w http.ResponseWriter, s StatusSnapshot) {
	pos := "no fix"
	if s.Fix.Lat != nil && s.Fix.Lon != nil {
		pos = fmt.Sprintf("%.7f, %.7f", *s.Fix.Lat, *s.Fix.Lon)
	}
	heading := s.Fix.Heading
	if heading == "" {
		heading = "-"
	}
	steering := "Disabled"
	if s.Control.SteeringEnabled {
		steering = "Enabled"
	}
	dist := "-"
	if s.Nav.DistanceM != nil {
		dist = fmt.Sprintf("%.1f m", *s.Nav.DistanceM)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = fmt.Fprint(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>rtkrover</title></head><body>")
	_, _ = fmt.Fprint(w, "<h1>rtkrover</h1><pre>")
	rows := [][2]string{
		{"time", s.Fix.TimeOfDay},
		{"position", pos},
		{"fix", s.Fix.Quality},
		{"heading", heading},
		{"mode", s.Control.Mode},
		{"steering", steering},
		{"steering pulse", fmt.Sprintf("%.0f us", s.Control.PulseUS)},
		{"waypoint", fmt.Sprintf("%d / %d", s.Nav.WaypointIndex, s.Nav.WaypointCount)},
		{"distance", dist},
		{"heading error", fmt.Sprintf("%.1f", s.Nav.HeadingError)},
		{"ntrip", fmt.Sprintf("%s (%d bytes)", s.NTRIP.State, s.NTRIP.Bytes)},
		{"wifi", fmt.Sprintf("%v %s %s", s.WiFi.Up, s.WiFi.SSID, s.WiFi.IP)},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%-14s %s\n", row[0]+":", html.EscapeString(row[1]))
	}
	_, _ = fmt.Fprint(w, "</pre>")
	_, _ = fmt.Fprint(w, "<form method=\"post\" action=\"/api/steering?state=on\"><button>Enable steering</button></form>")
	_, _ = fmt.Fprint(w, "<form method=\"post\" action=\"/api/steering?state=off\"><button>Disable steering</button></form>")
	_, _ = fmt.Fprint(w, "<p><a href=\"/api/status\">status</a> | <a href=\"/api/track\">track</a> | <a href=\"/api/logs?format=text\">logs</a></p>")
	_, _ = fmt.Fprint(w, "</body></html>")
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("web: serve %s: %w", listenAddr, err)
	}
}
