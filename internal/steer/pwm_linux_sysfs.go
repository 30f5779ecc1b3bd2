//go:build linux

package steer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm. On Raspberry Pi
// the channel is exposed by a pwm overlay (for example dtoverlay=pwm-2chan).
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	enabled  bool
}

func openSysfs(chipPath string, channel, hz int) (Driver, error) {
	if chipPath == "" {
		chipPath = "/sys/class/pwm/pwmchip0"
	}
	if channel < 0 {
		return nil, fmt.Errorf("steer: invalid pwm channel %d", channel)
	}
	if n, err := readInt(filepath.Join(chipPath, "npwm")); err != nil {
		return nil, fmt.Errorf("steer: read npwm: %w", err)
	} else if channel >= n {
		return nil, fmt.Errorf("steer: pwm channel %d not available (npwm=%d)", channel, n)
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.setFrequency(hz); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("steer: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("steer: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) setFrequency(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("steer: invalid frequency %d", hz)
	}
	periodNS := uint64(1_000_000_000 / hz)

	// Period can only change while disabled.
	_ = d.writeBool("enable", false)
	d.enabled = false

	if err := d.writeUint("period", periodNS); err != nil {
		return fmt.Errorf("steer: set period: %w", err)
	}
	d.periodNS = periodNS
	return nil
}

func (d *sysfsPWM) SetPulse(us float64) error {
	if us < 0 || math.IsNaN(us) {
		us = 0
	}
	duty := uint64(math.Round(us * 1000))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) Close() error {
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some sysfs attributes
// reject. Freshly exported nodes can briefly fail with EACCES or ENOENT
// until udev settles, so those are retried for a short window.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			_, werr := f.WriteString(value)
			cerr := f.Close()
			if err = errors.Join(werr, cerr); err == nil {
				return nil
			}
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
