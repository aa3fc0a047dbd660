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

// Package loop implements the main control loop that ties the clock
// handle, offset estimator, leap coordinator, servo, sanity check and
// stats reporter together, in both PHC mode (clock-to-clock) and PPS
// mode (pulse-per-second discipline of the wall clock).
package loop

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/teragrep-clocksync/phc2sys/clock"
	"github.com/teragrep-clocksync/phc2sys/internal/clockhandle"
	"github.com/teragrep-clocksync/phc2sys/internal/leap"
	"github.com/teragrep-clocksync/phc2sys/internal/offset"
	"github.com/teragrep-clocksync/phc2sys/internal/ppsdev"
	"github.com/teragrep-clocksync/phc2sys/internal/sanity"
	"github.com/teragrep-clocksync/phc2sys/internal/servoadapter"
	"github.com/teragrep-clocksync/phc2sys/internal/statusline"
	"github.com/teragrep-clocksync/phc2sys/internal/stats"
	"github.com/teragrep-clocksync/phc2sys/servo"
)

// Slave is one disciplined clock and its per-clock state.
type Slave struct {
	Name      string
	Handle    clockhandle.Handle
	Servo     *servoadapter.Adapter
	Sanity    *sanity.Checker
	Stats     *stats.Reporter
	Direction int32 // +1, -1 or 0 (same timescale), applied to sync_offset before feeding the servo

	lastState servo.State
}

// unlocked reports whether the slave's servo has not yet reached LOCKED,
// the condition under which a JUMP (and therefore the leap gate's
// evaluation-timestamp shift) is imminent.
func (s *Slave) unlocked() bool { return s.lastState == servo.StateInit }

// Loop is the PHC-mode main loop: one master clock, N slave clocks, a
// leap coordinator consulted once per tick and gated per slave.
type Loop struct {
	Master    clockhandle.Handle
	MasterName string
	Slaves    []*Slave
	Leap      *leap.Coordinator
	NSamples  int
	Interval  time.Duration

	// Verbose colorizes the per-tick/per-window lines by servo state (-m).
	Verbose bool

	// PPS-only fields; PPSReader == nil selects PHC mode.
	PPSReader *ppsdev.Reader
}

// logSample emits one tick's trace/summary line in statusline's Raw and
// Summary formats, colorized by servo state when Verbose.
func (l *Loop) logSample(name string, state servo.State, trace *stats.Trace, summary *stats.Summary) {
	if trace != nil {
		line := statusline.Raw(name, trace.OffsetNS, state.String(), trace.FreqPPB, trace.DelayNS, trace.HaveDelay)
		if l.Verbose {
			line = statusline.Colorize(line, state.String())
		}
		log.Info(line)
	}
	if summary != nil {
		line := fmt.Sprintf("%s %s", name, statusline.Summary(summary.OffsetRMS, summary.OffsetMax, summary.FreqMean, summary.FreqStddev, summary.DelayMean, summary.DelayStddev, summary.HaveDelay))
		if l.Verbose {
			line = statusline.Colorize(line, state.String())
		}
		log.Info(line)
	}
}

// Tick runs one control-loop iteration in PHC mode: estimate each
// slave's offset against Master, gate it through the leap coordinator,
// sample the servo, apply the result, and update stats.
func (l *Loop) Tick(now time.Time) error {
	applyLeap, err := l.Leap.Tick(now)
	if err != nil {
		return fmt.Errorf("leap coordinator tick: %w", err)
	}

	for _, s := range l.Slaves {
		if err := l.tickSlave(now, s, applyLeap); err != nil {
			log.Warningf("%s: %v", s.Name, err)
		}
	}
	return nil
}

func (l *Loop) tickSlave(now time.Time, s *Slave, leapDue bool) error {
	var result offset.Result
	var err error
	if offset.SysoffSupported(l.Master, s.Handle) {
		result, err = offset.EstimateSysoff(l.MasterName, l.NSamples)
	} else {
		result, err = offset.EstimateBracket(l.Master, s.Handle, l.NSamples)
	}
	if err != nil {
		return fmt.Errorf("estimating offset: %w", err)
	}

	adjustedOffset := result.Offset + time.Duration(s.Direction)*time.Duration(l.Leap.SyncOffset())*time.Second

	suspend, applyKernelLeap, insertLeap, err := l.Leap.Gate(
		result.Timestamp, l.Master.IsUTC(), s.Handle.IsUTC(), s.unlocked(),
		-adjustedOffset, rereadMasterFunc(l.Master), leapDue,
	)
	if err != nil {
		return fmt.Errorf("leap gate: %w", err)
	}
	if suspend {
		return nil
	}

	ppb, state := s.Servo.Sample(adjustedOffset, result.Timestamp)
	s.lastState = state

	switch state {
	case servo.StateInit:
		// UNLOCKED: do not apply frequency.
	case servo.StateJump:
		if err := s.Handle.Step(-adjustedOffset); err != nil {
			return fmt.Errorf("stepping clock: %w", err)
		}
		if err := s.Handle.SetFreq(ppb); err != nil {
			return fmt.Errorf("setting frequency after step: %w", err)
		}
	default: // StateLocked, StateFilter
		if err := s.Handle.SetFreq(ppb); err != nil {
			return fmt.Errorf("setting frequency: %w", err)
		}
		if s.Handle.IsUTC() {
			if err := clock.SetSync(); err != nil {
				log.Warningf("failed to set sys clock sync state: %v", err)
			}
		}
	}

	if s.Sanity.Check(result.Timestamp, ppb) {
		log.Warningf("%s: sanity check failed, resetting servo", s.Name)
		s.Servo.Unlock()
	}
	if state == servo.StateJump {
		// after this tick's Check, so the next tick's Check skips the step
		s.Sanity.NotifyStep(result.Timestamp)
	}

	var trace *stats.Trace
	var summary *stats.Summary
	if result.Delay != 0 {
		trace, summary = s.Stats.Push(float64(adjustedOffset), ppb, float64(result.Delay), true)
	} else {
		trace, summary = s.Stats.Push(float64(adjustedOffset), ppb, 0, false)
	}
	l.logSample(s.Name, state, trace, summary)

	if leapDue && applyKernelLeap {
		if err := s.Handle.RequestLeap(insertLeap); err != nil {
			log.Warningf("%s: requesting kernel leap second: %v", s.Name, err)
		} else {
			log.Infof("%s: leap second applied", s.Name)
		}
	}
	return nil
}

func rereadMasterFunc(master clockhandle.Handle) func() (time.Time, error) {
	if master == nil || !master.IsUTC() {
		return nil
	}
	return func() (time.Time, error) { return master.Now() }
}

// TickPPS runs one control-loop iteration in PPS mode: a single
// disciplined clock (the wall clock), driven by a PPS edge instead of a
// clock-to-clock offset estimate.
func (l *Loop) TickPPS(masterOffsetToSlave time.Duration) error {
	if len(l.Slaves) != 1 {
		return fmt.Errorf("PPS mode requires exactly one slave, got %d", len(l.Slaves))
	}
	s := l.Slaves[0]

	res, err := l.PPSReader.Read(l.Master, masterOffsetToSlave)
	if err != nil {
		return fmt.Errorf("reading PPS: %w", err)
	}
	residual := res.Residual

	applyLeap, err := l.Leap.Tick(res.Timestamp)
	if err != nil {
		return fmt.Errorf("leap coordinator tick: %w", err)
	}

	adjustedOffset := residual + time.Duration(s.Direction)*time.Duration(l.Leap.SyncOffset())*time.Second

	suspend, applyKernelLeap, insertLeap, err := l.Leap.Gate(
		res.Timestamp, l.Master != nil && l.Master.IsUTC(), s.Handle.IsUTC(), s.unlocked(),
		-adjustedOffset, rereadMasterFunc(l.Master), applyLeap,
	)
	if err != nil {
		return fmt.Errorf("leap gate: %w", err)
	}
	if suspend {
		return nil
	}

	ppb, state := s.Servo.Sample(adjustedOffset, res.Timestamp)
	s.lastState = state

	switch state {
	case servo.StateInit:
	case servo.StateJump:
		if err := s.Handle.Step(-adjustedOffset); err != nil {
			return fmt.Errorf("stepping clock: %w", err)
		}
		if err := s.Handle.SetFreq(ppb); err != nil {
			return fmt.Errorf("setting frequency after step: %w", err)
		}
	default:
		if err := s.Handle.SetFreq(ppb); err != nil {
			return fmt.Errorf("setting frequency: %w", err)
		}
		if err := clock.SetSync(); err != nil {
			log.Warningf("failed to set sys clock sync state: %v", err)
		}
	}

	if s.Sanity.Check(res.Timestamp, ppb) {
		log.Warningf("%s: sanity check failed, resetting servo", s.Name)
		s.Servo.Unlock()
	}
	if state == servo.StateJump {
		s.Sanity.NotifyStep(res.Timestamp)
	}

	trace, summary := s.Stats.Push(float64(adjustedOffset), ppb, 0, false)
	l.logSample(s.Name, state, trace, summary)
	if applyLeap && applyKernelLeap {
		if err := s.Handle.RequestLeap(insertLeap); err != nil {
			log.Warningf("%s: requesting kernel leap second: %v", s.Name, err)
		} else {
			log.Infof("%s: leap second applied", s.Name)
		}
	}
	return nil
}
