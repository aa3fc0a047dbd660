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

package phc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIfaceInfoToPHCDevice(t *testing.T) {
	info := &EthtoolTSinfo{PHCIndex: 0}
	got, err := ifaceInfoToPHCDevice(info)
	require.NoError(t, err)
	require.Equal(t, "/dev/ptp0", got)

	info.PHCIndex = 23
	got, err = ifaceInfoToPHCDevice(info)
	require.NoError(t, err)
	require.Equal(t, "/dev/ptp23", got)

	info.PHCIndex = -1
	_, err = ifaceInfoToPHCDevice(info)
	require.Error(t, err)
}

func TestMaxAdjFreq(t *testing.T) {
	caps := &PTPClockCaps{MaxAdj: 1000000000}
	require.InEpsilon(t, 1000000000.0, caps.maxAdj(), 0.00001)

	caps.MaxAdj = 0
	require.InEpsilon(t, DefaultMaxClockFreqPPB, caps.maxAdj(), 0.00001)

	var nilCaps *PTPClockCaps
	require.InEpsilon(t, DefaultMaxClockFreqPPB, nilCaps.maxAdj(), 0.00001)
}

func TestPinFuncStringAndSet(t *testing.T) {
	for _, tc := range []struct {
		pf  PinFunc
		str string
	}{
		{PinFuncNone, "None"},
		{PinFuncExtTS, "PPS-In"},
		{PinFuncPerOut, "PPS-Out"},
		{PinFuncPhySync, "PhySync"},
	} {
		require.Equal(t, tc.str, tc.pf.String())
	}

	var pf PinFunc
	require.NoError(t, pf.Set("pps-in"))
	require.Equal(t, PinFuncExtTS, pf)

	require.NoError(t, pf.Set("-"))
	require.Equal(t, PinFuncNone, pf)

	require.Error(t, pf.Set("bogus"))
}
