package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	GPS      GPSConfig      `yaml:"gps"`
	NTRIP    NTRIPConfig    `yaml:"ntrip"`
	RC       RCConfig       `yaml:"rc"`
	Steering SteeringConfig `yaml:"steering"`
	Nav      NavConfig      `yaml:"nav"`
	Track    TrackConfig    `yaml:"track"`
	Web      WebConfig      `yaml:"web"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	WiFi     WiFiConfig     `yaml:"wifi"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type GPSConfig struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	BufferBytes int           `yaml:"buffer_bytes"`
	DisablePPS  *bool         `yaml:"disable_pps"`
	CommandWait time.Duration `yaml:"command_wait"`
}

type NTRIPConfig struct {
	Enable        bool          `yaml:"enable"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Mountpoint    string        `yaml:"mountpoint"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SuccessToken  string        `yaml:"success_token"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	SilenceWindow time.Duration `yaml:"silence_window"`
	Attempts      int           `yaml:"attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

type RCConfig struct {
	Enable       bool   `yaml:"enable"`
	Chip         string `yaml:"chip"`
	SteeringLine int    `yaml:"steering_line"`
	ModeLine     int    `yaml:"mode_line"`
	MinValidUS   int    `yaml:"min_valid_us"`
	MaxValidUS   int    `yaml:"max_valid_us"`
}

type SteeringConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Backend     string `yaml:"backend"`
	Pin         string `yaml:"pin"`
	PWMChip     string `yaml:"pwm_chip"`
	PWMChannel  int    `yaml:"pwm_channel"`
	FrequencyHz int    `yaml:"frequency_hz"`
	MinPulseUS  int    `yaml:"min_pulse_us"`
	MaxPulseUS  int    `yaml:"max_pulse_us"`
}

type NavConfig struct {
	WaypointsFile       string        `yaml:"waypoints_file"`
	AutoThresholdUS     int           `yaml:"auto_threshold_us"`
	OverrideThresholdUS int           `yaml:"override_threshold_us"`
	ProximityM          float64       `yaml:"proximity_m"`
	FullLeftUS          int           `yaml:"full_left_us"`
	FullRightUS         int           `yaml:"full_right_us"`
	MaxAngleDeg         float64       `yaml:"max_angle_deg"`
	Kp                  *float64      `yaml:"kp"`
	Ki                  float64       `yaml:"ki"`
	Kd                  float64       `yaml:"kd"`
	LoopInterval        time.Duration `yaml:"loop_interval"`
}

type TrackConfig struct {
	Capacity int `yaml:"capacity"`
}

type WebConfig struct {
	Listen     string        `yaml:"listen"`
	WSInterval time.Duration `yaml:"ws_interval"`
}

type MQTTConfig struct {
	Enable      bool          `yaml:"enable"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Interval    time.Duration `yaml:"interval"`
}

type WiFiConfig struct {
	Interface    string        `yaml:"interface"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PPSDisabled reports whether the receiver's PPS output should be turned off
// at startup. Defaults to true.
func (g GPSConfig) PPSDisabled() bool { return g.DisablePPS == nil || *g.DisablePPS }

// InitiallyEnabled is the steering master flag at startup. Defaults to true.
func (s SteeringConfig) InitiallyEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Gain returns the proportional gain, 0.3 when unset.
func (n NavConfig) Gain() float64 {
	if n.Kp == nil {
		return 0.3
	}
	return *n.Kp
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies environment overrides and defaults, then
// validates. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLinePrefix(te.Errors), "; "))
		}
		return Config{}, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripLinePrefix turns "line 3: field x not found in type y" into
// "field x not found in type y".
func stripLinePrefix(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if strings.HasPrefix(e, "line ") {
			if i := strings.Index(e, ": "); i >= 0 {
				e = e[i+2:]
			}
		}
		out = append(out, e)
	}
	return out
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("NTRIP_USERNAME"); ok {
		cfg.NTRIP.Username = v
	}
	if v, ok := os.LookupEnv("NTRIP_PASSWORD"); ok {
		cfg.NTRIP.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = "./logs"
	}

	if cfg.GPS.Device == "" {
		cfg.GPS.Device = "/dev/serial0"
	}
	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 115200
	}
	if cfg.GPS.BufferBytes <= 0 {
		cfg.GPS.BufferBytes = 4096
	}
	if cfg.GPS.CommandWait <= 0 {
		cfg.GPS.CommandWait = 800 * time.Millisecond
	}

	n := &cfg.NTRIP
	if n.Host == "" {
		n.Host = "rtk2go.com"
	}
	if n.Port <= 0 {
		n.Port = 2101
	}
	if n.SuccessToken == "" {
		n.SuccessToken = "ICY 200 OK"
	}
	if n.DialTimeout <= 0 {
		n.DialTimeout = 2 * time.Second
	}
	if n.PollTimeout <= 0 {
		n.PollTimeout = 50 * time.Millisecond
	}
	if n.SilenceWindow <= 0 {
		n.SilenceWindow = 10 * time.Second
	}
	if n.Attempts <= 0 {
		n.Attempts = 3
	}
	if n.RetryDelay <= 0 {
		n.RetryDelay = 5 * time.Second
	}
	if n.Cooldown <= 0 {
		n.Cooldown = 30 * time.Second
	}

	if cfg.RC.Chip == "" {
		cfg.RC.Chip = "/dev/gpiochip0"
	}
	if cfg.RC.SteeringLine == 0 && cfg.RC.ModeLine == 0 {
		cfg.RC.SteeringLine, cfg.RC.ModeLine = 6, 7
	}
	if cfg.RC.MinValidUS <= 0 {
		cfg.RC.MinValidUS = 900
	}
	if cfg.RC.MaxValidUS <= 0 {
		cfg.RC.MaxValidUS = 2200
	}

	s := &cfg.Steering
	if s.Backend == "" {
		s.Backend = "sysfs"
	}
	s.Backend = strings.ToLower(s.Backend)
	if s.Pin == "" {
		s.Pin = "GPIO22"
	}
	if s.PWMChip == "" {
		s.PWMChip = "/sys/class/pwm/pwmchip0"
	}
	if s.FrequencyHz <= 0 {
		s.FrequencyHz = 50
	}
	if s.MinPulseUS <= 0 {
		s.MinPulseUS = 1100
	}
	if s.MaxPulseUS <= 0 {
		s.MaxPulseUS = 1900
	}

	v := &cfg.Nav
	if v.WaypointsFile == "" {
		v.WaypointsFile = "waypoints.csv"
	}
	if v.AutoThresholdUS <= 0 {
		v.AutoThresholdUS = 1500
	}
	if v.OverrideThresholdUS <= 0 {
		v.OverrideThresholdUS = 1750
	}
	if v.ProximityM <= 0 {
		v.ProximityM = 2
	}
	if v.FullLeftUS <= 0 {
		v.FullLeftUS = 1048
	}
	if v.FullRightUS <= 0 {
		v.FullRightUS = 2043
	}
	if v.MaxAngleDeg <= 0 {
		v.MaxAngleDeg = 90
	}
	if v.LoopInterval <= 0 {
		v.LoopInterval = 10 * time.Millisecond
	}

	if cfg.Track.Capacity <= 0 {
		cfg.Track.Capacity = 60
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.WSInterval <= 0 {
		cfg.Web.WSInterval = 500 * time.Millisecond
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "rover"
	}
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.Interval <= 0 {
		cfg.MQTT.Interval = time.Second
	}

	if cfg.WiFi.Interface == "" {
		cfg.WiFi.Interface = "wlan0"
	}
	if cfg.WiFi.PollInterval <= 0 {
		cfg.WiFi.PollInterval = 5 * time.Second
	}
}

func validate(cfg Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	if cfg.NTRIP.Enable && strings.TrimSpace(cfg.NTRIP.Mountpoint) == "" {
		return fmt.Errorf("ntrip.mountpoint is required when ntrip.enable is true")
	}
	for _, f := range []struct{ key, val string }{
		{"ntrip.host", cfg.NTRIP.Host},
		{"ntrip.mountpoint", cfg.NTRIP.Mountpoint},
		{"ntrip.username", cfg.NTRIP.Username},
		{"ntrip.password", cfg.NTRIP.Password},
	} {
		if hasControlChars(f.val) {
			return fmt.Errorf("%s must not contain control characters", f.key)
		}
	}
	if cfg.NTRIP.PollTimeout >= time.Second {
		return fmt.Errorf("ntrip.poll_timeout must be < 1s")
	}

	if cfg.RC.MinValidUS >= cfg.RC.MaxValidUS {
		return fmt.Errorf("rc.min_valid_us must be < rc.max_valid_us")
	}
	if cfg.RC.Enable && (cfg.RC.SteeringLine < 0 || cfg.RC.ModeLine < 0 || cfg.RC.SteeringLine == cfg.RC.ModeLine) {
		return fmt.Errorf("rc.steering_line and rc.mode_line must be distinct non-negative offsets")
	}

	switch cfg.Steering.Backend {
	case "sysfs", "periph", "none":
	default:
		return fmt.Errorf("steering.backend must be one of sysfs, periph, none")
	}
	if cfg.Steering.MinPulseUS >= cfg.Steering.MaxPulseUS {
		return fmt.Errorf("steering.min_pulse_us must be < steering.max_pulse_us")
	}

	if cfg.Nav.FullLeftUS == cfg.Nav.FullRightUS {
		return fmt.Errorf("nav.full_left_us and nav.full_right_us must differ")
	}
	if cfg.Nav.Gain() < 0 || cfg.Nav.Ki < 0 || cfg.Nav.Kd < 0 {
		return fmt.Errorf("nav gains must be >= 0")
	}

	if cfg.MQTT.Enable && !strings.Contains(cfg.MQTT.Broker, "://") {
		return fmt.Errorf("mqtt.broker must be a URL like tcp://host:1883")
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
