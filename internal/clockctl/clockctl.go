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

// Package clockctl wraps clock_adjtime(2) for a bare clockid, giving the
// wall-clock side of a sync pair the same get_freq/set_freq/step/
// max_adjust_ppb shape the PHC side gets from phc.Device.
package clockctl

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/teragrep-clocksync/phc2sys/clock"
)

// Clock operates CLOCK_REALTIME (or another bare clockid) via clock_adjtime.
type Clock struct {
	ClockID int32
}

// New returns a Clock bound to CLOCK_REALTIME.
func New() *Clock { return &Clock{ClockID: unix.CLOCK_REALTIME} }

// FreqPPB reads the clock's current frequency offset in PPB.
func (c *Clock) FreqPPB() (float64, error) {
	freqPPB, state, err := clock.FrequencyPPB(c.ClockID)
	if err != nil {
		return 0, fmt.Errorf("reading clock %d frequency: %w", c.ClockID, err)
	}
	if state != unix.TIME_OK {
		return freqPPB, fmt.Errorf("clock %d state %d is not TIME_OK", c.ClockID, state)
	}
	return freqPPB, nil
}

// AdjFreq sets the clock's frequency offset in PPB.
func (c *Clock) AdjFreq(freqPPB float64) error {
	state, err := clock.AdjFreqPPB(c.ClockID, freqPPB)
	if err != nil {
		return fmt.Errorf("adjusting clock %d frequency: %w", c.ClockID, err)
	}
	if state != unix.TIME_OK {
		return fmt.Errorf("clock %d state %d is not TIME_OK", c.ClockID, state)
	}
	return nil
}

// Step steps the clock by the given duration.
func (c *Clock) Step(step time.Duration) error {
	state, err := clock.Step(c.ClockID, step)
	if err != nil {
		return fmt.Errorf("stepping clock %d: %w", c.ClockID, err)
	}
	if state != unix.TIME_OK {
		return fmt.Errorf("clock %d state %d is not TIME_OK", c.ClockID, state)
	}
	return nil
}

// RequestLeap arms the kernel to insert (insert=true) or delete
// (insert=false) a leap second at the next UTC midnight.
func (c *Clock) RequestLeap(insert bool) error {
	_, err := clock.SetLeap(c.ClockID, insert)
	if err != nil {
		return fmt.Errorf("requesting leap second on clock %d: %w", c.ClockID, err)
	}
	return nil
}

// MaxFreqAdjPPB returns the platform-defined maximum frequency adjustment
// for the wall clock.
func (c *Clock) MaxFreqAdjPPB() (float64, error) {
	freqPPB, _, err := clock.MaxFreqPPB(c.ClockID)
	if err != nil {
		return 0, fmt.Errorf("reading clock %d tolerance: %w", c.ClockID, err)
	}
	return freqPPB, nil
}

// EstablishKnownState implements the open-time contract shared with the PHC
// side: get_freq()'s 0 reading is indistinguishable from "unknown", so the
// value read at open must immediately be written back with set_freq to
// force the kernel into a known state.
func (c *Clock) EstablishKnownState() error {
	freqPPB, err := c.FreqPPB()
	if err != nil {
		return err
	}
	return c.AdjFreq(freqPPB)
}

// SetSync marks CLOCK_REALTIME as synchronized (TIME_OK), clearing the
// unsynchronized flag the kernel otherwise reports to ntp_adjtime callers.
func SetSync() error { return clock.SetSync() }
