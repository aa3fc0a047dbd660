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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClockHandle struct {
	name       string
	isUTC      bool
	freq       float64
	freqErr    error
	maxFreqPPB float64
}

func (f *fakeClockHandle) Name() string                 { return f.name }
func (f *fakeClockHandle) IsUTC() bool                  { return f.isUTC }
func (f *fakeClockHandle) Now() (time.Time, error)      { return time.Time{}, nil }
func (f *fakeClockHandle) Step(time.Duration) error     { return nil }
func (f *fakeClockHandle) SetFreq(float64) error        { return nil }
func (f *fakeClockHandle) GetFreq() (float64, error)    { return f.freq, f.freqErr }
func (f *fakeClockHandle) MaxAdjustPPB() float64        { return f.maxFreqPPB }
func (f *fakeClockHandle) HasPPSOutput() bool           { return false }
func (f *fakeClockHandle) SysoffSupported() bool        { return false }
func (f *fakeClockHandle) RequestLeap(bool) error       { return nil }
func (f *fakeClockHandle) Close() error                 { return nil }

func TestDirectionPHCMasterUTCSlave(t *testing.T) {
	require.EqualValues(t, 1, direction(true, false))
}

func TestDirectionUTCMasterPHCSlave(t *testing.T) {
	require.EqualValues(t, -1, direction(false, true))
}

func TestDirectionSameTimescale(t *testing.T) {
	require.EqualValues(t, 0, direction(true, true))
	require.EqualValues(t, 0, direction(false, false))
}

func TestBuildLeapCoordinatorForcedOffsetSkipsManagement(t *testing.T) {
	cfg := defaultConfig()
	cfg.masterDevice = "/dev/ptp0"
	cfg.forcedOffsetSet = true
	cfg.forcedOffsetSec = 3

	coord, client, err := buildLeapCoordinator(cfg)
	require.NoError(t, err)
	require.Nil(t, client)
	require.NotNil(t, coord)
	require.EqualValues(t, 3, coord.SyncOffset())
}

func TestBuildLeapCoordinatorWithoutManagementSocketFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.masterDevice = "/dev/ptp0"
	// forcedOffsetSet is false, so a dial to the real management socket
	// is attempted; absent a running peer this must fail cleanly rather
	// than block or panic.
	_, _, err := buildLeapCoordinator(cfg)
	require.Error(t, err)
}

func TestBuildSlavePropagatesServoConstructionError(t *testing.T) {
	cfg := defaultConfig()
	h := &fakeClockHandle{name: "dev", freqErr: errors.New("read failed")}
	_, err := buildSlave(cfg, h, false)
	require.Error(t, err)
}

func TestBuildSlaveSetsDirectionAndName(t *testing.T) {
	cfg := defaultConfig()
	h := &fakeClockHandle{name: "CLOCK_REALTIME", isUTC: true, maxFreqPPB: 500000}
	slave, err := buildSlave(cfg, h, false)
	require.NoError(t, err)
	require.Equal(t, "CLOCK_REALTIME", slave.Name)
	require.EqualValues(t, 1, slave.Direction)
}
