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

package main

import (
	"fmt"
	"time"
)

// config holds every flag value, independent of how it was parsed, so
// validation and wiring can be tested without going through cobra.
type config struct {
	slaveDevice      string
	masterDevice     string
	masterPPSDevice  string
	servoKind        string
	kpScale          float64
	kiScale          float64
	stepThreshold    time.Duration
	firstStepThresh  time.Duration
	rateHz           float64
	nsamples         int
	forcedOffsetSet  bool
	forcedOffsetSec  float64
	sanityLimitPPB   float64
	statsWindow      int
	waitForPeer      bool
	mgmtDomain       int
	leapViaServo     bool
	logLevel         string
	verboseStatus    bool
	quietSyslog      bool
}

func defaultConfig() *config {
	return &config{
		slaveDevice:     "CLOCK_REALTIME",
		servoKind:       "pi",
		kpScale:         0.7,
		kiScale:         0.3,
		firstStepThresh: 20 * time.Microsecond,
		rateHz:          1.0,
		nsamples:        5,
		sanityLimitPPB:  2e8,
		mgmtDomain:      0,
		logLevel:        "info",
	}
}

// validate checks the fatal-init preconditions: bad combinations here must
// fail before anything is opened, per the fatal-init error kind.
func (c *config) validate() error {
	if c.masterDevice == "" && c.masterPPSDevice == "" {
		return fmt.Errorf("at least one of -s (master clock) or -d (master PPS device) is required")
	}
	switch c.servoKind {
	case "pi":
	case "linreg":
		return fmt.Errorf("servo type %q is not available: no linear-regression servo is wired", c.servoKind)
	default:
		return fmt.Errorf("unknown servo type %q, want pi or linreg", c.servoKind)
	}
	if c.rateHz <= 0 {
		return fmt.Errorf("update rate must be positive, got %v", c.rateHz)
	}
	if c.nsamples < 1 {
		return fmt.Errorf("readings per update must be at least 1, got %d", c.nsamples)
	}
	if c.mgmtDomain < 0 || c.mgmtDomain > 255 {
		return fmt.Errorf("management domain must be in [0, 255], got %d", c.mgmtDomain)
	}
	if c.sanityLimitPPB < 0 {
		return fmt.Errorf("sanity frequency limit must not be negative, got %v", c.sanityLimitPPB)
	}
	if c.statsWindow < 0 {
		return fmt.Errorf("stats window must not be negative, got %d", c.statsWindow)
	}
	return nil
}

// interval is the monotonic-sleep period between control-loop ticks.
func (c *config) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.rateHz)
}

// ppsMode reports whether the master is a PPS device rather than a PHC.
func (c *config) ppsMode() bool {
	return c.masterPPSDevice != ""
}
