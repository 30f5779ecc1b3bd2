// Package rover runs the single cooperative control loop: receiver input,
// RC arbitration, steering and correction forwarding, in that order, once
// per tick.
package rover

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rtkrover/internal/gps"
	"rtkrover/internal/nav"
	"rtkrover/internal/ntrip"
	"rtkrover/internal/rc"
	"rtkrover/internal/steer"
	"rtkrover/internal/track"
	"rtkrover/internal/web"
)

const (
	DefaultInterval      = 10 * time.Millisecond
	DefaultRelayCooldown = 30 * time.Second

	// ioWarnEvery rate-limits repeated transient I/O warnings.
	ioWarnEvery = 5 * time.Second
)

// Receiver is the serial side of the loop.
type Receiver interface {
	Poll() ([]gps.Update, error)
	Write(p []byte) (int, error)
}

type Config struct {
	Interval      time.Duration
	RelayCooldown time.Duration

	Receiver   Receiver
	Tracks     *track.Store
	Controller *nav.Controller
	Filter     *rc.Filter
	Sampler    rc.Sampler
	Servo      *steer.Servo
	// Relay is optional; nil disables correction forwarding.
	Relay  *ntrip.Relay
	Status *web.Status

	Logger *slog.Logger
	Now    func() time.Time
}

// Loop owns the navigation state. Step and Run must be called from one
// goroutine.
type Loop struct {
	cfg Config
	log *slog.Logger

	rs      gps.ReceiverStatus
	updates []gps.Update

	lastSerialWarn time.Time
	lastRelayWarn  time.Time

	reconnectWG   sync.WaitGroup
	rmu           sync.Mutex
	reconnecting  bool
	cooldownUntil time.Time
}

func New(cfg Config) (*Loop, error) {
	if cfg.Receiver == nil {
		return nil, errors.New("rover: receiver is required")
	}
	if cfg.Controller == nil {
		return nil, errors.New("rover: controller is required")
	}
	if cfg.Servo == nil {
		return nil, errors.New("rover: servo is required")
	}
	if cfg.Status == nil {
		return nil, errors.New("rover: status is required")
	}
	if cfg.Tracks == nil {
		cfg.Tracks = track.NewStore(track.DefaultCapacity)
	}
	if cfg.Filter == nil {
		cfg.Filter = rc.NewFilter(rc.DefaultMinValidUS, rc.DefaultMaxValidUS)
	}
	if cfg.Sampler == nil {
		cfg.Sampler = &rc.StaticSampler{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RelayCooldown <= 0 {
		cfg.RelayCooldown = DefaultRelayCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "loop"),
		updates: make([]gps.Update, 0, 16),
	}, nil
}

// Run ticks until ctx is done, then waits for any reconnect in flight.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("control loop started", "interval", l.cfg.Interval, "relay", l.cfg.Relay != nil)
	t := time.NewTicker(l.cfg.Interval)
	defer t.Stop()
	defer l.reconnectWG.Wait()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopping")
			return nil
		case <-t.C:
			l.Step(ctx, l.cfg.Now())
		}
	}
}

// Step executes one tick.
func (l *Loop) Step(ctx context.Context, now time.Time) nav.Command {
	l.pollReceiver(now)

	inputs := l.cfg.Filter.Read(l.cfg.Sampler)

	cmd := l.cfg.Controller.Tick(nav.TickInput{
		Inputs:      inputs,
		Lat:         l.rs.Lat,
		Lon:         l.rs.Lon,
		HasPosition: l.rs.HasPosition,
		Heading:     l.rs.Heading,
		HasHeading:  l.rs.HasHeading,
		Now:         now,
	})
	if cmd.Advanced {
		l.log.Info("waypoint advanced", "index", cmd.WaypointIndex)
	}

	pulse, applied, err := l.cfg.Servo.Apply(cmd.AngleDeg, l.cfg.Status.SteeringEnabled())
	if err != nil {
		l.log.Warn("steering write failed", "err", err)
	}

	if l.cfg.Relay != nil {
		l.serviceRelay(ctx, now)
		l.cfg.Status.SetRelay(true, l.cfg.Relay.Snapshot())
	}

	l.cfg.Status.MarkTick(now, web.ControlUpdate{
		Receiver: l.rs,
		TrackLen: l.cfg.Tracks.Len(),
		Inputs:   inputs,
		Command:  cmd,
		PulseUS:  pulse,
		Applied:  applied,
	})
	return cmd
}

// ReceiverStatus returns the loop's receiver state. Only valid from the
// loop goroutine.
func (l *Loop) ReceiverStatus() gps.ReceiverStatus { return l.rs }

func (l *Loop) pollReceiver(now time.Time) {
	ups, err := l.cfg.Receiver.Poll()
	if err != nil && now.Sub(l.lastSerialWarn) >= ioWarnEvery {
		l.lastSerialWarn = now
		l.log.Warn("serial read failed", "err", err)
	}
	l.updates = append(l.updates[:0], ups...)
	for _, u := range l.updates {
		l.rs.Apply(u)
		if u.Position != nil {
			l.cfg.Tracks.Record(u.Position.Lat, u.Position.Lon, u.Position.Time)
		}
	}
}

// serviceRelay polls a live session and forwards what arrived. Without a
// live session it closes any silent socket and starts a background
// reconnect unless one is running or the cooldown has not elapsed.
func (l *Loop) serviceRelay(ctx context.Context, now time.Time) {
	relay := l.cfg.Relay
	if relay.HasSession() {
		data, err := relay.Poll(ctx)
		if len(data) > 0 {
			if _, werr := l.cfg.Receiver.Write(data); werr != nil {
				l.warnRelay(now, "correction write failed", werr)
			}
		}
		if err != nil && ctx.Err() == nil {
			l.warnRelay(now, "correction read failed", err)
		}
		if relay.HasSession() && relay.Connected() {
			return
		}
		if relay.HasSession() {
			_ = relay.Close()
		}
	}
	l.startReconnect(ctx, now)
}

func (l *Loop) startReconnect(ctx context.Context, now time.Time) {
	if ctx.Err() != nil {
		return
	}
	l.rmu.Lock()
	if l.reconnecting || now.Before(l.cooldownUntil) {
		l.rmu.Unlock()
		return
	}
	l.reconnecting = true
	l.rmu.Unlock()

	l.reconnectWG.Add(1)
	go func() {
		defer l.reconnectWG.Done()
		err := l.cfg.Relay.ConnectWithRetry(ctx)

		l.rmu.Lock()
		defer l.rmu.Unlock()
		l.reconnecting = false
		if err != nil && ctx.Err() == nil {
			l.cooldownUntil = l.cfg.Now().Add(l.cfg.RelayCooldown)
			l.log.Warn("caster unreachable, cooling down", "cooldown", l.cfg.RelayCooldown, "err", err)
		}
	}()
}

// WaitReconnect blocks until no reconnect attempt is in flight.
func (l *Loop) WaitReconnect() { l.reconnectWG.Wait() }

func (l *Loop) warnRelay(now time.Time, msg string, err error) {
	if now.Sub(l.lastRelayWarn) < ioWarnEvery {
		return
	}
	l.lastRelayWarn = now
	l.log.Warn(msg, "err", err)
}
