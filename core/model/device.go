package model

import (
	"strings"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// Device names where a model's parameters live.
type Device string

// DeviceCPU is the only supported placement.
const DeviceCPU Device = "cpu"

// AvailableDevices lists the devices ParseDevice accepts.
func AvailableDevices() []string {
	return []string{string(DeviceCPU)}
}

// ParseDevice resolves a configured device name. There is no fallback: an
// unsupported device is a DeviceError.
func ParseDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return DeviceCPU, nil
	default:
		return "", perrors.NewDeviceError(name, AvailableDevices())
	}
}
