/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package phcdev resolves a clock name from the command line into an open
// PHC device, covering both "/dev/ptpN" paths and "eth0"-style network
// interface names that carry an associated PHC.
package phcdev

import (
	"fmt"
	"os"
	"strings"

	"github.com/teragrep-clocksync/phc2sys/phc"
)

// Open opens name as a PHC device. name may be a device path
// ("/dev/ptp0"), a bare clock index ("ptp0"), or a network interface name
// ("eth0") that ethtool reports an associated PHC for.
func Open(name string) (*phc.Device, error) {
	path, err := ResolvePath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PHC device %q: %w", path, err)
	}
	return phc.FromFile(f), nil
}

// ResolvePath turns name into a "/dev/ptpN" path without opening it.
func ResolvePath(name string) (string, error) {
	switch {
	case strings.HasPrefix(name, "/dev/"):
		return name, nil
	case strings.HasPrefix(name, "ptp"):
		return "/dev/" + name, nil
	default:
		path, err := phc.IfaceToPHCDevice(name)
		if err != nil {
			return "", fmt.Errorf("resolving PHC device for interface %q: %w", name, err)
		}
		return path, nil
	}
}

// MaxFreqAdjPPB reads the device's maximum frequency adjustment, in PPB, and
// rejects the contract-breaking case of a PHC that reports zero: a caller
// relying on this value to clamp a servo's output would silently disable
// clamping instead of failing loudly.
func MaxFreqAdjPPB(dev *phc.Device) (float64, error) {
	maxFreq, err := dev.MaxFreqAdjPPB()
	if err != nil {
		return 0, fmt.Errorf("reading max freq adjustment: %w", err)
	}
	if maxFreq == 0 {
		return 0, fmt.Errorf("device %q reports a max frequency adjustment of 0", dev.File().Name())
	}
	return maxFreq, nil
}

// HasPPSOutput reports whether the device advertises the capability to
// generate a periodic (PPS-Out) signal on at least one pin.
func HasPPSOutput(dev *phc.Device) (bool, error) {
	caps, err := dev.Caps()
	if err != nil {
		return false, fmt.Errorf("reading clock capabilities: %w", err)
	}
	return caps.NPerOut > 0, nil
}
