package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"rtkrover/internal/config"
	"rtkrover/internal/gps"
	"rtkrover/internal/nav"
	"rtkrover/internal/ntrip"
	"rtkrover/internal/rc"
	"rtkrover/internal/rover"
	"rtkrover/internal/steer"
	"rtkrover/internal/telemetry"
	"rtkrover/internal/track"
	"rtkrover/internal/web"
	"rtkrover/internal/wifi"
)

type runtimeDeps struct {
	Logger *slog.Logger
	Logs   *web.LogBuffer
	RunID  string

	// Link replaces the serial port when set.
	Link io.ReadWriteCloser
	// Sampler replaces the GPIO RC receiver when set.
	Sampler rc.Sampler
	// SkipWiFi disables the link monitor.
	SkipWiFi bool
}

type closingSampler interface {
	rc.Sampler
	Close() error
}

// roverRuntime is every long-lived component of one process, wired together.
type roverRuntime struct {
	cfg   config.Config
	log   *slog.Logger
	logs  *web.LogBuffer
	start time.Time
	deps  runtimeDeps

	link      io.ReadWriteCloser
	receiver  *gps.Receiver
	tracks    *track.Store
	sampler   rc.Sampler
	servo     *steer.Servo
	relay     *ntrip.Relay
	status    *web.Status
	feed      *web.Broadcaster
	loop      *rover.Loop
	publisher *telemetry.Publisher
}

func newRuntime(ctx context.Context, cfg config.Config, deps runtimeDeps) (*roverRuntime, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logs := deps.Logs
	if logs == nil {
		logs = web.NewLogBuffer(500)
	}
	rt := &roverRuntime{cfg: cfg, log: logger, logs: logs, start: time.Now(), deps: deps}

	rt.link = deps.Link
	if rt.link == nil {
		link, err := gps.OpenSerial(cfg.GPS.Device, cfg.GPS.Baud)
		if err != nil {
			logger.Error("gps serial unavailable, running without receiver", "device", cfg.GPS.Device, "err", err)
			link = offlineLink{}
		} else {
			logger.Info("gps serial opened", "device", cfg.GPS.Device, "baud", cfg.GPS.Baud)
		}
		rt.link = link
	}
	parser := gps.NewParser(gps.WithBufferSize(cfg.GPS.BufferBytes), gps.WithLogger(logger.With("component", "gps")))
	rt.receiver = gps.NewReceiver(rt.link, parser, logger.With("component", "gps"))
	if _, offline := rt.link.(offlineLink); !offline && cfg.GPS.PPSDisabled() {
		rt.receiver.DisablePPS(ctx, cfg.GPS.CommandWait)
	}

	wps, err := nav.LoadWaypoints(cfg.Nav.WaypointsFile, logger)
	if err != nil {
		logger.Warn("no waypoints loaded", "file", cfg.Nav.WaypointsFile, "err", err)
	} else {
		logger.Info("waypoints loaded", "file", cfg.Nav.WaypointsFile, "count", len(wps))
	}
	controller := nav.NewController(nav.Config{
		AutoThresholdUS:     cfg.Nav.AutoThresholdUS,
		OverrideThresholdUS: cfg.Nav.OverrideThresholdUS,
		ProximityM:          cfg.Nav.ProximityM,
		FullLeftUS:          cfg.Nav.FullLeftUS,
		FullRightUS:         cfg.Nav.FullRightUS,
		MaxAngleDeg:         cfg.Nav.MaxAngleDeg,
		Kp:                  cfg.Nav.Gain(),
		Ki:                  cfg.Nav.Ki,
		Kd:                  cfg.Nav.Kd,
	}, wps)

	rt.sampler = deps.Sampler
	if rt.sampler == nil {
		rt.sampler = openSampler(cfg.RC, logger)
	}

	drv, err := steer.Open(steer.BackendConfig{
		Backend:     cfg.Steering.Backend,
		Pin:         cfg.Steering.Pin,
		PWMChip:     cfg.Steering.PWMChip,
		PWMChannel:  cfg.Steering.PWMChannel,
		FrequencyHz: cfg.Steering.FrequencyHz,
	})
	if err != nil {
		logger.Error("steering backend unavailable, actuator disabled", "backend", cfg.Steering.Backend, "err", err)
		drv = steer.NopDriver{}
	}
	rt.servo, err = steer.NewServo(steer.Config{
		MinPulseUS:  float64(cfg.Steering.MinPulseUS),
		MaxPulseUS:  float64(cfg.Steering.MaxPulseUS),
		MaxAngleDeg: cfg.Nav.MaxAngleDeg,
	}, drv)
	if err != nil {
		_ = drv.Close()
		rt.Close()
		return nil, err
	}

	if cfg.NTRIP.Enable {
		n := cfg.NTRIP
		rt.relay, err = ntrip.New(ntrip.Config{
			Host:          n.Host,
			Port:          n.Port,
			Mountpoint:    n.Mountpoint,
			Username:      n.Username,
			Password:      n.Password,
			SuccessToken:  n.SuccessToken,
			DialTimeout:   n.DialTimeout,
			PollTimeout:   n.PollTimeout,
			SilenceWindow: n.SilenceWindow,
			Attempts:      n.Attempts,
			RetryDelay:    n.RetryDelay,
			Logger:        logger,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.status = web.NewStatus()
	rt.status.SetRunID(deps.RunID)
	rt.status.SetSteeringEnabled(cfg.Steering.InitiallyEnabled())
	rt.status.SetWaypointCount(len(wps))
	if rt.relay == nil {
		rt.status.SetRelay(false, ntrip.Snapshot{State: "disabled"})
	}
	rt.tracks = track.NewStore(cfg.Track.Capacity)
	rt.feed = web.NewBroadcaster()

	rt.loop, err = rover.New(rover.Config{
		Interval:      cfg.Nav.LoopInterval,
		RelayCooldown: cfg.NTRIP.Cooldown,
		Receiver:      rt.receiver,
		Tracks:        rt.tracks,
		Controller:    controller,
		Filter:        rc.NewFilter(cfg.RC.MinValidUS, cfg.RC.MaxValidUS),
		Sampler:       rt.sampler,
		Servo:         rt.servo,
		Relay:         rt.relay,
		Status:        rt.status,
		Logger:        logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.MQTT.Enable {
		clientID := cfg.MQTT.ClientID
		if clientID == "" && len(deps.RunID) >= 8 {
			clientID = "rtkrover-" + deps.RunID[:8]
		}
		rt.publisher, err = telemetry.NewPublisher(telemetry.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    clientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Interval:    cfg.MQTT.Interval,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("mqtt telemetry disabled", "err", err)
			rt.publisher = nil
		}
	}
	return rt, nil
}

func openSampler(cfg config.RCConfig, logger *slog.Logger) rc.Sampler {
	if !cfg.Enable {
		return &rc.StaticSampler{}
	}
	s, err := rc.OpenGPIO(cfg.Chip, cfg.SteeringLine, cfg.ModeLine)
	if err != nil {
		logger.Error("rc receiver unavailable, holding neutral inputs", "chip", cfg.Chip, "err", err)
		return &rc.StaticSampler{}
	}
	logger.Info("rc receiver opened", "chip", cfg.Chip, "steering_line", cfg.SteeringLine, "mode_line", cfg.ModeLine)
	return s
}

// Handler is the HTTP surface. shutdown is called after a POST to
// /api/shutdown has been answered.
func (rt *roverRuntime) Handler(shutdown func()) http.Handler {
	return web.Handler(rt.status, rt.tracks, rt.logs, rt.feed, shutdown)
}

// Run supervises the control loop and the observers until ctx is done or
// an operator requests shutdown.
func (rt *roverRuntime) Run(ctx context.Context, shutdown context.CancelFunc) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.loop.Run(gctx) })
	g.Go(func() error {
		handler := rt.Handler(func() {
			rt.log.Warn("shutdown requested over http")
			shutdown()
		})
		rt.log.Info("web listening", "addr", rt.cfg.Web.Listen)
		if err := web.Serve(gctx, rt.cfg.Web.Listen, handler); err != nil {
			// The loop keeps running without its status page.
			rt.log.Error("web server stopped", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		rt.feed.Run(gctx, rt.status, rt.cfg.Web.WSInterval)
		return nil
	})
	if !rt.deps.SkipWiFi {
		g.Go(func() error {
			wifi.Monitor(gctx, rt.cfg.WiFi.Interface, rt.cfg.WiFi.PollInterval, rt.status.SetLink, rt.log.With("component", "wifi"))
			return nil
		})
	}
	if rt.publisher != nil {
		g.Go(func() error {
			return rt.publisher.Run(gctx, func() web.StatusSnapshot { return rt.status.Snapshot(time.Now()) })
		})
	}
	return g.Wait()
}

func (rt *roverRuntime) Uptime() time.Duration { return time.Since(rt.start).Truncate(time.Second) }

// Close centers the servo and releases every device. Safe to call on a
// partially built runtime.
func (rt *roverRuntime) Close() {
	var errs []error
	if rt.servo != nil {
		errs = append(errs, rt.servo.Close())
	}
	if s, ok := rt.sampler.(closingSampler); ok {
		errs = append(errs, s.Close())
	}
	if rt.relay != nil {
		errs = append(errs, rt.relay.Close())
	}
	if rt.link != nil {
		errs = append(errs, rt.link.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("shutdown cleanup", "err", err)
	}
}

// offlineLink stands in for a serial port that could not be opened.
type offlineLink struct{}

func (offlineLink) Read([]byte) (int, error)    { return 0, io.EOF }
func (offlineLink) Write(p []byte) (int, error) { return 0, fmt.Errorf("gps: serial offline") }
func (offlineLink) Close() error                { return nil }
