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

// Package servoadapter gives the main loop a (offset, ts) -> (ppb, state)
// interface over servo.PiServo, handling the first-step-vs-steady-state
// threshold setup and the max-frequency probe-with-fallback dance once, at
// construction time.
package servoadapter

import (
	"log"
	"time"

	"github.com/teragrep-clocksync/phc2sys/internal/clockhandle"
	"github.com/teragrep-clocksync/phc2sys/servo"
)

// DefaultMaxFreqAdjPPB is used when a clock can't report its own max
// adjustable frequency.
const DefaultMaxFreqAdjPPB = 500000.0

// Adapter wraps a servo.PiServo for one disciplined clock.
type Adapter struct {
	pi *servo.PiServo
}

// New builds an Adapter for handle: interval is the expected sampling
// period, firstStepThreshold (if nonzero) allows a one-time step on the
// first update, stepThreshold bounds subsequent steps, and maxFreqPPB
// overrides the clock-reported maximum adjustment when nonzero. kpScale
// and kiScale (if nonzero) override the proportional/integral gain
// scales; zero keeps servo.DefaultPiServoCfg's built-in scale.
func New(interval, firstStepThreshold, stepThreshold time.Duration, handle clockhandle.Handle, maxFreqPPB float64, kpScale, kiScale float64) (*Adapter, error) {
	cfg := servo.DefaultServoConfig()
	if firstStepThreshold != 0 {
		cfg.FirstUpdate = true
		cfg.FirstStepThreshold = int64(firstStepThreshold)
	}
	cfg.StepThreshold = int64(stepThreshold)

	freq, err := handle.GetFreq()
	if err != nil {
		return nil, err
	}

	piCfg := servo.DefaultPiServoCfg()
	if kpScale != 0 {
		piCfg.PiKpScale = kpScale
	}
	if kiScale != 0 {
		piCfg.PiKiScale = kiScale
	}

	pi := servo.NewPiServo(cfg, piCfg, -freq)
	pi.SyncInterval(interval.Seconds())

	if maxFreqPPB == 0 {
		maxFreqPPB = handle.MaxAdjustPPB()
		if maxFreqPPB == 0 {
			log.Printf("unable to get max frequency adjustment from %s, using default: %f", handle.Name(), DefaultMaxFreqAdjPPB)
			maxFreqPPB = DefaultMaxFreqAdjPPB
		}
	}
	pi.SetMaxFreq(maxFreqPPB)

	return &Adapter{pi: pi}, nil
}

// Sample feeds a new (offset, timestamp) pair to the servo and returns the
// new frequency adjustment in PPB plus the resulting servo state.
func (a *Adapter) Sample(offset time.Duration, ts time.Time) (float64, servo.State) {
	ppb, state := a.pi.Sample(int64(offset), uint64(ts.UnixNano()))
	if state != servo.StateInit {
		// the first update is done; later steps use stepThreshold only
		a.pi.UnsetFirstUpdate()
	}
	return ppb, state
}

// Unlock resets the servo to its initial, unlocked state.
func (a *Adapter) Unlock() { a.pi.Unlock() }
