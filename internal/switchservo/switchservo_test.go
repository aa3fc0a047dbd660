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

package switchservo

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	offsetNS      float64
	delayNS       float64
	sampleErr     error
	now           time.Time
	running       bool
	ratios        []float64
	resets        int
	clockSets     []time.Time
	steps         []int64
	schedules     []time.Time
	starts        int
	stops         int
}

func (f *fakeDevice) SampleOffsetDelay(n int) (float64, float64, error) {
	return f.offsetNS, f.delayNS, f.sampleErr
}
func (f *fakeDevice) WriteRatio(ratio float64) error { f.ratios = append(f.ratios, ratio); return nil }
func (f *fakeDevice) HardwareReset() error            { f.resets++; return nil }
func (f *fakeDevice) Now() (time.Time, error)         { return f.now, nil }
func (f *fakeDevice) SetClock(t time.Time) error      { f.clockSets = append(f.clockSets, t); return nil }
func (f *fakeDevice) StepAdd(ns int64) error           { f.steps = append(f.steps, ns); return nil }
func (f *fakeDevice) EngineRunning() (bool, error)    { return f.running, nil }
func (f *fakeDevice) WriteSchedule(start time.Time, cycleLen time.Duration) error {
	f.schedules = append(f.schedules, start)
	return nil
}
func (f *fakeDevice) CommandStart() error { f.starts++; return nil }
func (f *fakeDevice) StopEngine() error   { f.stops++; return nil }

func TestDriftServoClampsIntegral(t *testing.T) {
	s := NewDriftServo(0, 1) // ki=1, so integral grows by offsetNS every sample
	for i := 0; i < 10; i++ {
		s.Sample(1e7) // way over scale per step
	}
	require.Equal(t, scale, s.integral)
}

func TestDriftServoRatioAtZeroOffset(t *testing.T) {
	s := NewDriftServo(0.5, 0.1)
	require.Equal(t, 1.0, s.Sample(0))
}

func TestTickSkipsWhenOverMaxOffset(t *testing.T) {
	dev := &fakeDevice{offsetNS: 5000} // 5us
	c := NewController(dev, 0.5, 0.1, 1 /* 1us max */, time.Second, 3)
	require.NoError(t, c.Tick(time.Now()))
	require.Empty(t, dev.ratios)
	require.Zero(t, dev.resets)
}

func TestTickAppliesServoWithinBounds(t *testing.T) {
	dev := &fakeDevice{offsetNS: 10}
	c := NewController(dev, 0.5, 0.1, 1000, time.Second, 3)
	require.NoError(t, c.Tick(time.Now()))
	require.Len(t, dev.ratios, 1)
}

// TestTickDefersFullResetToNextTick checks that a tick measuring an
// offset above fullResetThreshold only raises resetReq; the reset
// sequence itself runs on the following Tick call.
func TestTickDefersFullResetToNextTick(t *testing.T) {
	dev := &fakeDevice{offsetNS: float64(2 * time.Second), now: time.Unix(1000, 0)}
	c := NewController(dev, 0.5, 0.1, 1000, time.Second, 3)

	require.NoError(t, c.Tick(time.Unix(1000, 0)))
	require.Zero(t, dev.resets)
	require.Zero(t, dev.stops)
	require.True(t, c.resetReq)

	require.NoError(t, c.Tick(time.Unix(1001, 0)))
	require.Equal(t, 1, dev.resets)
	require.Equal(t, 1, dev.stops)
	require.Equal(t, TASDisabled, c.State())
	require.False(t, c.resetReq)
}

func TestResetFailsPreconditionWhenOffsetNotPositive(t *testing.T) {
	dev := &fakeDevice{offsetNS: 0, sampleErr: nil}
	c := NewController(dev, 0.5, 0.1, 1000, time.Second, 3)
	c.RequestReset()
	// resetReq is already set, so this Tick runs the reset sequence at
	// entry; SampleOffsetDelay (inside reset) returns 0, violating the
	// reset precondition.
	err := c.Tick(time.Unix(1000, 0))
	require.Error(t, err)
}

func TestSampleErrorPropagates(t *testing.T) {
	dev := &fakeDevice{sampleErr: fmt.Errorf("spi timeout")}
	c := NewController(dev, 0.5, 0.1, 1000, time.Second, 3)
	err := c.Tick(time.Now())
	require.Error(t, err)
}

func TestComputeScheduledStartRoundsUpToCycleBoundary(t *testing.T) {
	switchNow := time.Unix(1000, 0)
	cycleLen := 10 * time.Second
	start := computeScheduledStart(switchNow, cycleLen)
	require.True(t, start.After(switchNow.Add(3*time.Second)) || start.Equal(switchNow.Add(3*time.Second)))
	require.Zero(t, start.UnixNano()%int64(cycleLen))
}

func TestNextEnabledNotRunningStateHoldsBeforeStart(t *testing.T) {
	scheduled := time.Unix(2000, 0)
	state := nextEnabledNotRunningState(time.Unix(1000, 0), scheduled, false)
	require.Equal(t, TASEnabledNotRunning, state)
}

func TestNextEnabledNotRunningStateTransitionsToRunning(t *testing.T) {
	scheduled := time.Unix(1000, 0)
	state := nextEnabledNotRunningState(time.Unix(2000, 0), scheduled, true)
	require.Equal(t, TASRunning, state)
}

func TestNextEnabledNotRunningStateFallsBackToDisabledOnTimeout(t *testing.T) {
	scheduled := time.Unix(1000, 0)
	state := nextEnabledNotRunningState(time.Unix(2000, 0), scheduled, false)
	require.Equal(t, TASDisabled, state)
}

func TestStepTASEngagesFromDisabledWhenUnderHalfMaxOffset(t *testing.T) {
	dev := &fakeDevice{now: time.Unix(1000, 0)}
	c := NewController(dev, 0.5, 0.1, 1000 /* maxOffsetNS=1e6 */, time.Second, 3)
	require.NoError(t, c.stepTAS(time.Unix(1000, 0), 100)) // well under maxOffsetNS/2
	require.Equal(t, TASEnabledNotRunning, c.State())
	require.Equal(t, 1, dev.starts)
	require.Len(t, dev.schedules, 1)
}

func TestStepTASRunningFallsBackToDisabledWhenEngineStops(t *testing.T) {
	dev := &fakeDevice{running: false}
	c := &Controller{dev: dev, servo: NewDriftServo(0, 0), tasState: TASRunning}
	require.NoError(t, c.stepTAS(time.Now(), 0))
	require.Equal(t, TASDisabled, c.State())
}
