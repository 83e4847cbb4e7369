package client

import (
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"os/user"
	"runtime"
	"slices"
	"strings"
)

// DeviceIDEnv overrides GenerateDeviceID when set.
const DeviceIDEnv = "LICENSE_DEVICE_ID"

// GenerateDeviceID produces a deterministic, reboot-safe device identifier.
// It combines hostname, user name, MAC addresses, OS, architecture and
// machine-id (Linux) into a SHA-256 hex string.
//
// Set LICENSE_DEVICE_ID to override it entirely, for example in containers
// whose hostname and interfaces change between runs.
func GenerateDeviceID() (string, error) {
	if id := os.Getenv(DeviceIDEnv); id != "" {
		return id, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("get hostname: %w", err)
	}
	parts := []string{hostname}

	// The same machine shared by two accounts yields two devices.
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username)
	}

	if macs, err := hardwareAddrs(); err == nil && len(macs) > 0 {
		parts = append(parts, macs...)
	}

	parts = append(parts, runtime.GOOS, runtime.GOARCH)

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		parts = append(parts, strings.TrimSpace(string(machineID)))
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// hardwareAddrs lists the MAC addresses of non-loopback interfaces in a
// stable order.
func hardwareAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs = append(addrs, iface.HardwareAddr.String())
	}
	slices.Sort(addrs)
	return addrs, nil
}
