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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresAMaster(t *testing.T) {
	c := defaultConfig()
	require.Error(t, c.validate())
}

func TestValidateAcceptsMasterClock(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	require.NoError(t, c.validate())
}

func TestValidateAcceptsMasterPPS(t *testing.T) {
	c := defaultConfig()
	c.masterPPSDevice = "/dev/ptp1"
	require.NoError(t, c.validate())
}

func TestValidateRejectsLinregServo(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	c.servoKind = "linreg"
	require.Error(t, c.validate())
}

func TestValidateRejectsUnknownServo(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	c.servoKind = "kalman"
	require.Error(t, c.validate())
}

func TestValidateRejectsNonPositiveRate(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	c.rateHz = 0
	require.Error(t, c.validate())
}

func TestValidateRejectsZeroSamples(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	c.nsamples = 0
	require.Error(t, c.validate())
}

func TestValidateRejectsOutOfRangeDomain(t *testing.T) {
	c := defaultConfig()
	c.masterDevice = "/dev/ptp0"
	c.mgmtDomain = 256
	require.Error(t, c.validate())
}

func TestIntervalFromRate(t *testing.T) {
	c := defaultConfig()
	c.rateHz = 2
	require.Equal(t, 500*time.Millisecond, c.interval())
}

func TestPPSModeDetection(t *testing.T) {
	c := defaultConfig()
	require.False(t, c.ppsMode())
	c.masterPPSDevice = "/dev/ptp1"
	require.True(t, c.ppsMode())
}
