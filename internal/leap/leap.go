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

// Package leap tracks the UTC/TAI offset and pending leap second by
// periodically querying a management channel, and gates clock updates
// around the ambiguous second a leap lands in.
package leap

import (
	"fmt"
	"time"

	"github.com/teragrep-clocksync/phc2sys/internal/mgmtclient"
	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

// Policy selects who inserts a due leap second.
type Policy int

const (
	// PolicyServo lets the servo absorb the leap via frequency/step
	// corrections rather than asking the kernel to insert it.
	PolicyServo Policy = iota
	// PolicyKernel requests the kernel insert the leap via clock_adjtime.
	PolicyKernel
)

// Coordinator refreshes sync_offset/leap from a management channel and
// decides, tick by tick, whether a leap is due and whether an update must
// be suspended because it falls in the ambiguous second.
type Coordinator struct {
	client          *mgmtclient.Client
	refreshInterval time.Duration
	policy          Policy

	forced bool // sync_offset came from the CLI, not from management

	syncOffset int32
	leapTarget int32 // -1, 0, +1: what management currently reports
	leapSet    int32 // last leap value actually applied

	lastUpdate time.Time
}

// New builds a Coordinator. client may be nil (e.g. both clocks are PHCs,
// making leap handling a no-op); syncOffset/forced seed the CLI-forced
// case where no management query is ever made.
func New(client *mgmtclient.Client, refreshInterval time.Duration, policy Policy, syncOffset int32, forced bool) *Coordinator {
	return &Coordinator{
		client:          client,
		refreshInterval: refreshInterval,
		policy:          policy,
		syncOffset:      syncOffset,
		forced:          forced,
	}
}

// SyncOffset returns the current UTC-to-TAI offset.
func (c *Coordinator) SyncOffset() int32 { return c.syncOffset }

// Tick performs step 1-4 of the periodic refresh: if due, issues a
// non-blocking TIME_PROPERTIES_DATA_SET request (or drains a prior one),
// then evaluates leap_second_status against now. It returns true if a
// leap is due to be applied this tick.
func (c *Coordinator) Tick(now time.Time) (applyLeap bool, err error) {
	if err := c.refresh(now); err != nil {
		return false, err
	}
	newLeapSet, apply := leapSecondStatus(now.UnixNano(), c.leapSet, c.leapTarget)
	if apply {
		c.leapSet = newLeapSet
		if c.leapTarget != 0 {
			c.syncOffset += int32(c.leapTarget)
		}
	}
	return apply, nil
}

// refresh issues or drains a management request for the current UTC
// offset/leap flags, if the channel is in use and due for a refresh.
func (c *Coordinator) refresh(now time.Time) error {
	if c.forced || c.client == nil {
		return nil
	}
	if c.lastUpdate.IsZero() || now.Sub(c.lastUpdate) >= c.refreshInterval {
		if err := c.client.RequestTimePropertiesDataSet(); err != nil {
			return fmt.Errorf("requesting time properties: %w", err)
		}
	}
	ok, err := c.client.Poll(0)
	if err != nil {
		return fmt.Errorf("polling time properties response: %w", err)
	}
	if !ok {
		return nil
	}
	tlv := c.client.LastTimePropertiesDataSet()
	if tlv == nil {
		return nil
	}
	c.syncOffset = int32(tlv.CurrentUTCOffset)
	c.leapTarget = leapFromFlags(tlv.Flags)
	c.lastUpdate = now
	return nil
}

// leapFromFlags extracts the leap indicator from a TIME_PROPERTIES_DATA_SET
// Flags byte: +1 for LEAP_61, -1 for LEAP_59, 0 otherwise - but only when
// the PTP_TIMESCALE flag is set; an NTP-sourced grandmaster's flags don't
// apply to our TAI/UTC bookkeeping.
func leapFromFlags(flags uint8) int32 {
	if flags&uint8(protocol.FlagPTPTimescale) == 0 {
		return 0
	}
	switch {
	case flags&uint8(protocol.FlagLeap61) != 0:
		return 1
	case flags&uint8(protocol.FlagLeap59) != 0:
		return -1
	default:
		return 0
	}
}

// leapSecondStatus is the deterministic "is a leap in effect now" function:
// once leapTarget differs from leapSet, it stays pending until a tick whose
// ts_now_ns falls inside the 00:00:00 UTC second, at which point it reports
// "apply this tick" and returns leapTarget as the new leapSet. A pending
// leap is not applied by a tick outside that second.
func leapSecondStatus(tsNowNS int64, leapSet, leapTarget int32) (newLeapSet int32, apply bool) {
	if leapTarget == leapSet {
		return leapSet, false
	}
	t := time.Unix(0, tsNowNS).UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return leapTarget, true
	}
	return leapSet, false
}

// IsAmbiguousSecond reports whether ts falls in the last UTC second before
// midnight while a leap is currently pending (leapTarget != leapSet) -
// the second whose wall-clock reading is ambiguous because the leap may or
// may not have landed yet.
func (c *Coordinator) IsAmbiguousSecond(ts time.Time) bool {
	if c.leapTarget == c.leapSet {
		return false
	}
	t := ts.UTC()
	return t.Hour() == 23 && t.Minute() == 59 && t.Second() == 59
}

// Gate implements the per-clock leap gate consulted by the main loop
// before applying an update to a (master, slave) pair. masterIsUTC and
// slaveIsUTC identify the pair's clock kinds; slaveUnlocked is true when
// the slave's servo is UNLOCKED (about to JUMP); rereadMaster re-reads the
// master wall clock, used when the master itself is the wall clock so its
// timestamp reflects a leap that may have just landed; expectedStep and
// the coordinator's sync offset adjust the evaluation instant when the
// slave is about to jump.
//
// Returns (suspend, applyKernelLeap, insertLeap). suspend means skip this
// slave this tick; applyKernelLeap means the kernel should be asked to
// insert or delete the leap (only meaningful when the slave is the wall
// clock and policy is PolicyKernel); insertLeap is true for a +1 (insert)
// leap and false for a -1 (delete) leap, valid only when applyKernelLeap
// is true.
//
// leapJustApplied must be the value Tick returned for this same tick:
// Tick updates leapSet to leapTarget on the tick it applies the leap,
// which would otherwise make leapTarget == leapSet by the time Gate runs
// and hide the one tick that matters. Passing Tick's own result keeps
// Gate's notion of "due" in sync with Tick's instead of re-deriving it
// from state Tick already mutated.
func (c *Coordinator) Gate(now time.Time, masterIsUTC, slaveIsUTC, slaveUnlocked bool, expectedStep time.Duration, rereadMaster func() (time.Time, error), leapJustApplied bool) (suspend, applyKernelLeap, insertLeap bool, err error) {
	leapDue := c.leapTarget != c.leapSet || leapJustApplied
	if !leapDue {
		return false, false, false, nil
	}
	if masterIsUTC == slaveIsUTC {
		// Both clocks share a timescale: the leap is invisible to this pair.
		return false, false, false, nil
	}

	evalTS := now
	if masterIsUTC && rereadMaster != nil {
		ts, err := rereadMaster()
		if err != nil {
			return false, false, false, fmt.Errorf("re-reading master clock for leap gate: %w", err)
		}
		evalTS = ts
	}
	if slaveIsUTC && slaveUnlocked {
		evalTS = evalTS.Add(expectedStep + time.Duration(c.syncOffset)*time.Second)
	}

	if c.IsAmbiguousSecond(evalTS) {
		return true, false, false, nil
	}

	if slaveIsUTC && c.policy == PolicyKernel {
		return false, true, c.leapTarget > 0, nil
	}
	return false, false, false, nil
}
