//go:build !linux

package steer

import "fmt"

func openSysfs(chipPath string, channel, hz int) (Driver, error) {
	return nil, fmt.Errorf("steer: sysfs pwm unsupported on this platform")
}
