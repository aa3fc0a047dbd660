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

package servoadapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teragrep-clocksync/phc2sys/servo"
)

type fakeHandle struct {
	name       string
	freq       float64
	freqErr    error
	maxFreqPPB float64
}

func (f *fakeHandle) Name() string                   { return f.name }
func (f *fakeHandle) IsUTC() bool                     { return false }
func (f *fakeHandle) Now() (time.Time, error)         { return time.Now(), nil }
func (f *fakeHandle) Step(time.Duration) error        { return nil }
func (f *fakeHandle) SetFreq(float64) error           { return nil }
func (f *fakeHandle) GetFreq() (float64, error)       { return f.freq, f.freqErr }
func (f *fakeHandle) MaxAdjustPPB() float64           { return f.maxFreqPPB }
func (f *fakeHandle) HasPPSOutput() bool              { return false }
func (f *fakeHandle) SysoffSupported() bool           { return false }
func (f *fakeHandle) RequestLeap(bool) error          { return nil }
func (f *fakeHandle) Close() error                    { return nil }

func TestNewUsesDeviceMaxFreqWhenNotOverridden(t *testing.T) {
	h := &fakeHandle{name: "dev", freq: 100, maxFreqPPB: 12345}
	a, err := New(time.Second, 0, 0, h, 0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestNewFallsBackToDefaultMaxFreq(t *testing.T) {
	h := &fakeHandle{name: "dev", freq: 100, maxFreqPPB: 0}
	a, err := New(time.Second, 0, 0, h, 0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestNewPropagatesFreqReadError(t *testing.T) {
	h := &fakeHandle{name: "dev", freqErr: errors.New("boom")}
	_, err := New(time.Second, 0, 0, h, 0, 0, 0)
	require.Error(t, err)
}

func TestSampleAndUnlock(t *testing.T) {
	h := &fakeHandle{name: "dev", freq: 0, maxFreqPPB: 500000}
	a, err := New(time.Second, 10*time.Millisecond, time.Second, h, 0, 0, 0)
	require.NoError(t, err)

	ppb, state := a.Sample(1000, time.Now())
	require.Equal(t, servo.StateInit, state)
	require.Zero(t, ppb)

	a.Unlock()
}

func TestNewAcceptsCustomGainScales(t *testing.T) {
	h := &fakeHandle{name: "dev", freq: 0, maxFreqPPB: 500000}
	a, err := New(time.Second, 0, 0, h, 0, 0.07, 0.03)
	require.NoError(t, err)
	require.NotNil(t, a)
}
