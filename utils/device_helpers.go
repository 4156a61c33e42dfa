package utils

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/sirupsen/logrus"
)

// Modes lists the OCCA backends in order of preference
var Modes = []string{"OpenMP", "CUDA", "Serial"}

// DeviceProperties returns the OCCA JSON properties for a backend mode
func DeviceProperties(mode string) (string, error) {
	switch mode {
	case "OpenMP", "Serial":
		return fmt.Sprintf(`{"mode": "%s"}`, mode), nil
	case "CUDA", "HIP", "OpenCL":
		return fmt.Sprintf(`{"mode": "%s", "device_id": 0}`, mode), nil
	default:
		return "", fmt.Errorf("unknown device mode %q", mode)
	}
}

// CreateDevice creates a Device for one backend mode
func CreateDevice(mode string) (*gocca.OCCADevice, error) {
	props, err := DeviceProperties(mode)
	if err != nil {
		return nil, err
	}
	device, err := gocca.NewDevice(props)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s device: %w", mode, err)
	}
	return device, nil
}

// CreateTestDevice creates a Device for testing, preferring parallel backends
// and falling back to Serial
func CreateTestDevice() *gocca.OCCADevice {
	for _, mode := range Modes {
		device, err := CreateDevice(mode)
		if err == nil {
			logrus.WithField("mode", device.Mode()).Debug("created device")
			return device
		}
	}

	panic("Failed to create any Device")
}
