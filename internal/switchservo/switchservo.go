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

// Package switchservo drives an SJA1105-class switch's rate register
// from a ratio-space PI servo, running as an independent periodic task
// alongside the main phc2sys control loop, and coordinates the switch's
// TAS/Qbv gate-control engine start sequence.
package switchservo

import (
	"fmt"
	"time"
)

// scale is the fixed-point scale the drift integrator and ratio output
// are expressed in: 10^7.
const scale = 1e7

// fullResetThreshold is the absolute offset magnitude at or above which a
// full reset is requested instead of a skipped tick.
const fullResetThreshold = time.Second

// DriftServo is the ratio-space PI controller: ratio = 1 -
// (offset*kp + integral)/scale, with the integral accumulating
// offset*ki and clamped to +/- scale.
type DriftServo struct {
	kp, ki   float64
	integral float64
}

// NewDriftServo builds a DriftServo with the given PI gains.
func NewDriftServo(kp, ki float64) *DriftServo {
	return &DriftServo{kp: kp, ki: ki}
}

// Sample advances the integrator by offsetNS*ki (clamped to +/- scale)
// and returns the resulting rate-register ratio.
func (d *DriftServo) Sample(offsetNS float64) float64 {
	d.integral += offsetNS * d.ki
	if d.integral > scale {
		d.integral = scale
	} else if d.integral < -scale {
		d.integral = -scale
	}
	return 1 - (offsetNS*d.kp+d.integral)/scale
}

// Reset zeroes the integrator, e.g. after a hardware reset.
func (d *DriftServo) Reset() { d.integral = 0 }

// TASState is a state of the TAS/Qbv start-coordination state machine.
type TASState int

const (
	TASDisabled TASState = iota
	TASEnabledNotRunning
	TASRunning
)

func (s TASState) String() string {
	switch s {
	case TASDisabled:
		return "DISABLED"
	case TASEnabledNotRunning:
		return "ENABLED_NOT_RUNNING"
	case TASRunning:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// Device abstracts the SPI-backed switch: offset/delay sampling, rate
// register control, clock control, and TAS engine control.
type Device interface {
	// SampleOffsetDelay performs a best-of-n three-timestamp bracket
	// estimate between the host clock and the switch's PTP clock.
	SampleOffsetDelay(n int) (offsetNS float64, delayNS float64, err error)
	WriteRatio(ratio float64) error
	HardwareReset() error
	Now() (time.Time, error)
	SetClock(t time.Time) error
	StepAdd(ns int64) error
	EngineRunning() (bool, error)
	WriteSchedule(start time.Time, cycleLen time.Duration) error
	CommandStart() error
	StopEngine() error
}

// Controller runs the External Switch Servo: the drift servo tick and
// the TAS start-coordination state machine, both on an 8 Hz timer.
type Controller struct {
	dev         Device
	servo       *DriftServo
	maxOffsetNS float64
	cycleLen    time.Duration
	nsamples    int

	tasState       TASState
	scheduledStart time.Time
	resetReq       bool
}

// NewController builds a Controller. maxOffsetUS is interpreted in
// microseconds and scaled to nanoseconds by x1000, per the switch
// configuration's flag convention.
func NewController(dev Device, kp, ki float64, maxOffsetUS float64, cycleLen time.Duration, nsamples int) *Controller {
	return &Controller{
		dev:         dev,
		servo:       NewDriftServo(kp, ki),
		maxOffsetNS: maxOffsetUS * 1000,
		cycleLen:    cycleLen,
		nsamples:    nsamples,
	}
}

// RequestReset marks a reset as pending for the next Tick, the control
// signal a sanity check or an operator action raises.
func (c *Controller) RequestReset() { c.resetReq = true }

// Tick runs one 125ms cycle: perform a reset requested by the previous
// tick, or else sample, apply the step policy and advance the TAS state
// machine. A reset detected this tick is deferred to the next Tick call
// rather than performed immediately, so the offset that triggered it has
// already been acted on (fed to stepTAS) before the switch clock moves.
func (c *Controller) Tick(now time.Time) error {
	if c.resetReq {
		if err := c.reset(now); err != nil {
			return err
		}
		c.resetReq = false
		c.tasState = TASDisabled
		if err := c.dev.StopEngine(); err != nil {
			return fmt.Errorf("stopping TAS engine after reset: %w", err)
		}
		return nil
	}

	offsetNS, _, err := c.dev.SampleOffsetDelay(c.nsamples)
	if err != nil {
		return fmt.Errorf("sampling switch offset: %w", err)
	}

	abs := offsetNS
	if abs < 0 {
		abs = -abs
	}
	switch {
	case time.Duration(abs) >= fullResetThreshold:
		c.resetReq = true
	case abs >= c.maxOffsetNS:
		// skip this tick; do not feed the servo or advance TAS
	default:
		ratio := c.servo.Sample(offsetNS)
		if err := c.dev.WriteRatio(ratio); err != nil {
			return fmt.Errorf("writing switch rate register: %w", err)
		}
	}

	return c.stepTAS(now, abs)
}

// reset performs the hardware reset sequence: reset the device, write
// ratio 1.0, set the switch clock one second behind the host so the
// following measurement is strictly positive, then write the negated
// measured offset into the step-add register.
func (c *Controller) reset(now time.Time) error {
	if err := c.dev.HardwareReset(); err != nil {
		return fmt.Errorf("resetting switch: %w", err)
	}
	c.servo.Reset()
	if err := c.dev.WriteRatio(1.0); err != nil {
		return fmt.Errorf("writing ratio after reset: %w", err)
	}
	if err := c.dev.SetClock(now.Add(-time.Second)); err != nil {
		return fmt.Errorf("setting switch clock after reset: %w", err)
	}
	offsetNS, _, err := c.dev.SampleOffsetDelay(c.nsamples)
	if err != nil {
		return fmt.Errorf("measuring offset after reset: %w", err)
	}
	if offsetNS <= 0 {
		return fmt.Errorf("reset precondition violated: measured offset %f <= 0 after setting clock behind", offsetNS)
	}
	if err := c.dev.StepAdd(-int64(offsetNS)); err != nil {
		return fmt.Errorf("writing step-add register: %w", err)
	}
	return nil
}

// stepTAS advances the TAS/Qbv state machine by one tick.
func (c *Controller) stepTAS(now time.Time, absOffsetNS float64) error {
	switch c.tasState {
	case TASDisabled:
		if absOffsetNS < c.maxOffsetNS/2 {
			switchNow, err := c.dev.Now()
			if err != nil {
				return fmt.Errorf("reading switch clock for TAS start: %w", err)
			}
			c.scheduledStart = computeScheduledStart(switchNow, c.cycleLen)
			if err := c.dev.WriteSchedule(c.scheduledStart, c.cycleLen); err != nil {
				return fmt.Errorf("writing TAS schedule: %w", err)
			}
			if err := c.dev.CommandStart(); err != nil {
				return fmt.Errorf("commanding TAS start: %w", err)
			}
			c.tasState = TASEnabledNotRunning
		}
	case TASEnabledNotRunning:
		switchNow, err := c.dev.Now()
		if err != nil {
			return fmt.Errorf("reading switch clock for TAS poll: %w", err)
		}
		running, err := c.dev.EngineRunning()
		if err != nil {
			return fmt.Errorf("reading TAS engine status: %w", err)
		}
		c.tasState = nextEnabledNotRunningState(switchNow, c.scheduledStart, running)
	case TASRunning:
		running, err := c.dev.EngineRunning()
		if err != nil {
			return fmt.Errorf("reading TAS engine status: %w", err)
		}
		if !running {
			c.tasState = TASDisabled
		}
	}
	return nil
}

// State returns the current TAS state, for status reporting.
func (c *Controller) State() TASState { return c.tasState }

// computeScheduledStart returns the smallest multiple of cycleLen (as a
// duration since the Unix epoch) that is at or after switchNow+3s.
func computeScheduledStart(switchNow time.Time, cycleLen time.Duration) time.Time {
	if cycleLen <= 0 {
		return switchNow.Add(3 * time.Second)
	}
	margin := switchNow.Add(3 * time.Second)
	epochNS := margin.UnixNano()
	cycleNS := int64(cycleLen)
	multiples := (epochNS + cycleNS - 1) / cycleNS
	return time.Unix(0, multiples*cycleNS)
}

// nextEnabledNotRunningState decides whether ENABLED_NOT_RUNNING should
// transition to RUNNING, fall back to DISABLED, or hold.
func nextEnabledNotRunningState(switchNow, scheduledStart time.Time, engineRunning bool) TASState {
	if !switchNow.After(scheduledStart) {
		return TASEnabledNotRunning
	}
	if engineRunning {
		return TASRunning
	}
	return TASDisabled
}
