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

package leap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

func TestLeapFromFlagsRequiresPTPTimescale(t *testing.T) {
	require.EqualValues(t, 0, leapFromFlags(uint8(protocol.FlagLeap61)))
}

func TestLeapFromFlagsLeap61(t *testing.T) {
	flags := uint8(protocol.FlagLeap61 | protocol.FlagPTPTimescale)
	require.EqualValues(t, 1, leapFromFlags(flags))
}

func TestLeapFromFlagsLeap59(t *testing.T) {
	flags := uint8(protocol.FlagLeap59 | protocol.FlagPTPTimescale)
	require.EqualValues(t, -1, leapFromFlags(flags))
}

func TestLeapFromFlagsNoLeap(t *testing.T) {
	flags := uint8(protocol.FlagPTPTimescale)
	require.EqualValues(t, 0, leapFromFlags(flags))
}

func TestLeapSecondStatusNoOpWhenNotPending(t *testing.T) {
	newSet, apply := leapSecondStatus(time.Now().UnixNano(), 0, 0)
	require.False(t, apply)
	require.EqualValues(t, 0, newSet)
}

func TestLeapSecondStatusAppliesAtMidnight(t *testing.T) {
	midnight := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	newSet, apply := leapSecondStatus(midnight, 0, 1)
	require.True(t, apply)
	require.EqualValues(t, 1, newSet)
}

func TestLeapSecondStatusPendingBeforeMidnight(t *testing.T) {
	beforeMidnight := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC).UnixNano()
	newSet, apply := leapSecondStatus(beforeMidnight, 0, 1)
	require.False(t, apply)
	require.EqualValues(t, 0, newSet)
}

func TestIsAmbiguousSecond(t *testing.T) {
	c := &Coordinator{leapTarget: 1, leapSet: 0}
	require.True(t, c.IsAmbiguousSecond(time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)))
	require.False(t, c.IsAmbiguousSecond(time.Date(2026, 6, 30, 23, 59, 58, 0, time.UTC)))
}

func TestIsAmbiguousSecondFalseWhenNoLeapPending(t *testing.T) {
	c := &Coordinator{leapTarget: 0, leapSet: 0}
	require.False(t, c.IsAmbiguousSecond(time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)))
}

func TestGatePassesThroughWhenNoLeapPending(t *testing.T) {
	c := &Coordinator{}
	suspend, applyKernel, _, err := c.Gate(time.Now(), false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.False(t, applyKernel)
}

func TestGatePassesThroughWhenBothSameTimescale(t *testing.T) {
	c := &Coordinator{leapTarget: 1, leapSet: 0}
	suspend, applyKernel, _, err := c.Gate(time.Now(), false, false, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.False(t, applyKernel)
}

func TestGateSuspendsInAmbiguousSecond(t *testing.T) {
	c := &Coordinator{leapTarget: 1, leapSet: 0, policy: PolicyKernel}
	ambiguous := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)
	suspend, applyKernel, _, err := c.Gate(ambiguous, false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.True(t, suspend)
	require.False(t, applyKernel)
}

func TestGateRequestsKernelLeapWhenDue(t *testing.T) {
	c := &Coordinator{leapTarget: 1, leapSet: 0, policy: PolicyKernel}
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	suspend, applyKernel, insert, err := c.Gate(due, false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.True(t, applyKernel)
	require.True(t, insert)
}

func TestGateRequestsKernelLeapDeleteWhenNegative(t *testing.T) {
	c := &Coordinator{leapTarget: -1, leapSet: 0, policy: PolicyKernel}
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	suspend, applyKernel, insert, err := c.Gate(due, false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.True(t, applyKernel)
	require.False(t, insert)
}

func TestGateServoPolicyNeverRequestsKernelLeap(t *testing.T) {
	c := &Coordinator{leapTarget: 1, leapSet: 0, policy: PolicyServo}
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	suspend, applyKernel, _, err := c.Gate(due, false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.False(t, applyKernel)
}

// TestTickThenGateAppliesKernelLeapOnTransitionTick reproduces the exact
// Tick-then-Gate sequence the main loop uses: Tick's own applyLeap result,
// not state Tick already mutated, must drive Gate's notion of "due" on
// the tick the leap actually lands.
func TestTickThenGateAppliesKernelLeapOnTransitionTick(t *testing.T) {
	c := New(nil, time.Minute, PolicyKernel, 0, true)
	c.leapTarget = 1
	midnight := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	applied, err := c.Tick(midnight)
	require.NoError(t, err)
	require.True(t, applied)

	suspend, applyKernel, insert, err := c.Gate(midnight, false, true, false, 0, nil, applied)
	require.NoError(t, err)
	require.False(t, suspend)
	require.True(t, applyKernel)
	require.True(t, insert)
}

// TestGateDoesNotReapplyKernelLeapOnLaterTicks checks the application is
// one-shot: once leapSet has caught up to leapTarget and the tick that did
// it has passed, later ticks report no further leap as due.
func TestGateDoesNotReapplyKernelLeapOnLaterTicks(t *testing.T) {
	c := New(nil, time.Minute, PolicyKernel, 0, true)
	c.leapTarget = 1
	midnight := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Tick(midnight)
	require.NoError(t, err)

	suspend, applyKernel, _, err := c.Gate(midnight.Add(time.Second), false, true, false, 0, nil, false)
	require.NoError(t, err)
	require.False(t, suspend)
	require.False(t, applyKernel)
}
