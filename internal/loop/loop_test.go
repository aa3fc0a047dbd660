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

package loop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teragrep-clocksync/phc2sys/internal/leap"
	"github.com/teragrep-clocksync/phc2sys/internal/sanity"
	"github.com/teragrep-clocksync/phc2sys/internal/servoadapter"
	"github.com/teragrep-clocksync/phc2sys/internal/stats"
)

// fakeHandle is a scripted clockhandle.Handle: each Now() call advances
// through a fixed sequence of readings (the last one repeats), modeling a
// slave clock that runs ahead of the master by a constant offset. When
// nowErr is set, every Now() call fails with it instead.
type fakeHandle struct {
	name     string
	isUTC    bool
	times    []time.Time
	nowErr   error
	idx      int
	steps    []time.Duration
	freqs    []float64
	maxPPB   float64
	leapReqs []bool
}

func (f *fakeHandle) Name() string { return f.name }
func (f *fakeHandle) IsUTC() bool  { return f.isUTC }
func (f *fakeHandle) Now() (time.Time, error) {
	if f.nowErr != nil {
		return time.Time{}, f.nowErr
	}
	t := f.times[f.idx]
	if f.idx < len(f.times)-1 {
		f.idx++
	}
	return t, nil
}
func (f *fakeHandle) Step(delta time.Duration) error { f.steps = append(f.steps, delta); return nil }
func (f *fakeHandle) SetFreq(ppb float64) error      { f.freqs = append(f.freqs, ppb); return nil }
func (f *fakeHandle) GetFreq() (float64, error)      { return 0, nil }
func (f *fakeHandle) MaxAdjustPPB() float64          { return f.maxPPB }
func (f *fakeHandle) HasPPSOutput() bool             { return false }
func (f *fakeHandle) SysoffSupported() bool          { return false }
func (f *fakeHandle) RequestLeap(insert bool) error  { f.leapReqs = append(f.leapReqs, insert); return nil }
func (f *fakeHandle) Close() error                   { return nil }

func newSlave(t *testing.T, h *fakeHandle) *Slave {
	t.Helper()
	adapter, err := servoadapter.New(time.Second, 0, 0, h, 500000, 0, 0)
	require.NoError(t, err)
	return &Slave{
		Name:   h.name,
		Handle: h,
		Servo:  adapter,
		Sanity: sanity.New(time.Second, 200*time.Millisecond, 2e8),
		Stats:  stats.New(0),
	}
}

func TestTickFirstSampleAppliesNoFrequency(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	master := &fakeHandle{name: "/dev/ptp0", isUTC: false, times: []time.Time{base}, maxPPB: 500000}
	slave := &fakeHandle{name: "CLOCK_REALTIME", isUTC: true, times: []time.Time{base.Add(1000)}, maxPPB: 500000}

	l := &Loop{
		Master:     master,
		MasterName: master.name,
		Slaves:     []*Slave{newSlave(t, slave)},
		Leap:       leap.New(nil, time.Minute, leap.PolicyServo, 0, true),
		NSamples:   1,
	}

	require.NoError(t, l.Tick(base))
	// First tick only records; no SetFreq is applied yet (servo.StateInit).
	require.Empty(t, slave.freqs)
}

func TestTickAppliesFrequencyOnSecondSample(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	master := &fakeHandle{
		name: "/dev/ptp0", isUTC: false,
		times:  []time.Time{base, base.Add(time.Second)},
		maxPPB: 500000,
	}
	// two slave readings (dst1, dst2) per bracket, one bracket per tick
	slave := &fakeHandle{
		name: "CLOCK_REALTIME", isUTC: true,
		times: []time.Time{
			base.Add(1000), base.Add(1000),
			base.Add(time.Second).Add(1000), base.Add(time.Second).Add(1000),
		},
		maxPPB: 500000,
	}

	l := &Loop{
		Master:     master,
		MasterName: master.name,
		Slaves:     []*Slave{newSlave(t, slave)},
		Leap:       leap.New(nil, time.Minute, leap.PolicyServo, 0, true),
		NSamples:   1,
	}

	require.NoError(t, l.Tick(base))
	require.NoError(t, l.Tick(base.Add(time.Second)))
	// The second sample, one second after the first, gives the servo a
	// drift estimate; with no step threshold configured it reports LOCKED
	// and the frequency is applied.
	require.NotEmpty(t, slave.freqs)
}

func TestTickSwallowsPerSlaveErrors(t *testing.T) {
	// tickSlave's errors (e.g. a failed clock read) are logged per-slave
	// and never propagate out of Tick, so a process with several slaves
	// keeps servicing the healthy ones when one misbehaves. Simulated
	// here by a slave whose clock read fails, which fails the offset
	// estimate.
	base := time.Unix(1_700_000_000, 0)
	master := &fakeHandle{name: "/dev/ptp0", isUTC: false, times: []time.Time{base}, maxPPB: 500000}
	slave := &fakeHandle{name: "CLOCK_REALTIME", isUTC: true, times: []time.Time{base}, nowErr: errors.New("clock read failed"), maxPPB: 500000}

	l := &Loop{
		Master:     master,
		MasterName: master.name,
		Slaves:     []*Slave{newSlave(t, slave)},
		Leap:       leap.New(nil, time.Minute, leap.PolicyServo, 0, true),
		NSamples:   1,
	}
	require.NoError(t, l.Tick(base))
}

func TestRereadMasterFuncNilWhenMasterIsPHC(t *testing.T) {
	master := &fakeHandle{name: "/dev/ptp0", isUTC: false}
	require.Nil(t, rereadMasterFunc(master))
}

func TestRereadMasterFuncNilWhenMasterNil(t *testing.T) {
	require.Nil(t, rereadMasterFunc(nil))
}

func TestRereadMasterFuncSetWhenMasterIsUTC(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	master := &fakeHandle{name: "CLOCK_REALTIME", isUTC: true, times: []time.Time{base}}
	fn := rereadMasterFunc(master)
	require.NotNil(t, fn)
	ts, err := fn()
	require.NoError(t, err)
	require.Equal(t, base, ts)
}
