// Package telemetry publishes rover status to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rtkrover/internal/web"
)

const publishTimeout = 2 * time.Second

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Interval    time.Duration
	Logger      *slog.Logger
}

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends <prefix>/status every interval and a retained
// <prefix>/fix whenever the position changes.
type Publisher struct {
	cfg     Config
	c       client
	log     *slog.Logger
	lastFix *FixMessage
}

// FixMessage is the retained last-known position.
type FixMessage struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	TimeUTC    string   `json:"time_utc,omitempty"`
	Quality    string   `json:"fix_quality,omitempty"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("telemetry: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "rtkrover"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "rover"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) { log.Info("mqtt connected", "broker", cfg.Broker) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { log.Warn("mqtt connection lost", "err", err) })

	c := mqtt.NewClient(opts)
	// With ConnectRetry the token only completes once connected; the
	// publisher keeps going either way.
	if tok := c.Connect(); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", cfg.Broker, tok.Error())
	}
	return newPublisher(cfg, c, log), nil
}

func newPublisher(cfg Config, c client, log *slog.Logger) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Publisher{cfg: cfg, c: c, log: log}
}

// Run publishes snapshots from source until ctx is done, then disconnects.
func (p *Publisher) Run(ctx context.Context, source func() web.StatusSnapshot) error {
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	defer p.c.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := p.PublishOnce(source()); err != nil {
				p.log.Debug("mqtt publish failed", "err", err)
			}
		}
	}
}

// PublishOnce sends one status message, and the fix message when it changed.
func (p *Publisher) PublishOnce(snap web.StatusSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("telemetry: marshal status: %w", err)
	}
	if err := p.publish(p.cfg.TopicPrefix+"/status", 0, false, b); err != nil {
		return err
	}

	fix, ok := FixFromStatus(snap)
	if !ok || (p.lastFix != nil && sameFix(*p.lastFix, fix)) {
		return nil
	}
	b, err = json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("telemetry: marshal fix: %w", err)
	}
	if err := p.publish(p.cfg.TopicPrefix+"/fix", 1, true, b); err != nil {
		return err
	}
	p.lastFix = &fix
	return nil
}

func (p *Publisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	tok := p.c.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("telemetry: publish %s: timeout", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("telemetry: publish %s: %w", topic, err)
	}
	return nil
}

// FixFromStatus extracts the position part of a status snapshot.
func FixFromStatus(s web.StatusSnapshot) (FixMessage, bool) {
	if s.Fix.Lat == nil || s.Fix.Lon == nil {
		return FixMessage{}, false
	}
	return FixMessage{
		Lat:        *s.Fix.Lat,
		Lon:        *s.Fix.Lon,
		TimeUTC:    s.Fix.TimeOfDay,
		Quality:    s.Fix.Quality,
		HeadingDeg: s.Fix.HeadingDeg,
	}, true
}

func sameFix(a, b FixMessage) bool {
	if a.Lat != b.Lat || a.Lon != b.Lon || a.TimeUTC != b.TimeUTC || a.Quality != b.Quality {
		return false
	}
	if (a.HeadingDeg == nil) != (b.HeadingDeg == nil) {
		return false
	}
	return a.HeadingDeg == nil || *a.HeadingDeg == *b.HeadingDeg
}
