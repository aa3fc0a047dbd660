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
	"time"

	"github.com/stretchr/testify/require"
)

func TestSysoffEstimateBasic(t *testing.T) {
	ts1 := time.Unix(1000, 0)
	rt := time.Unix(1000, 100)
	ts2 := time.Unix(1000, 200000100)

	res := sysoffEstimateBasic(ts1, rt, ts2)

	require.Equal(t, rt, res.PHCTime)
	require.Equal(t, 200000100*time.Nanosecond, res.Delay)
	require.Equal(t, ts1.Add(100000050*time.Nanosecond), res.SysTime)
}

func TestSysoffEstimateExtendedPicksShortestBracket(t *testing.T) {
	extended := &PTPSysOffsetExtended{
		NSamples: 2,
		TS: [ptpMaxSamples][3]PTPClockTime{
			// wide bracket, should be ignored
			{{Sec: 1000, NSec: 0}, {Sec: 1000, NSec: 50000000}, {Sec: 1000, NSec: 500000000}},
			// narrow bracket, should win
			{{Sec: 2000, NSec: 0}, {Sec: 2000, NSec: 50000000}, {Sec: 2000, NSec: 10000000}},
		},
	}

	res := sysoffEstimateExtended(extended)

	require.Equal(t, time.Unix(2000, 50000000), res.PHCTime)
	require.Equal(t, 10*time.Millisecond, res.Delay)
}

func TestCalcPHCOffet(t *testing.T) {
	a := SysoffResult{
		SysTime: time.Unix(1000, 0),
		PHCTime: time.Unix(1000, 0),
	}
	b := SysoffResult{
		SysTime: time.Unix(1001, 0),
		PHCTime: time.Unix(1001, 500000),
	}

	require.Equal(t, 500*time.Microsecond, CalcPHCOffet(a, b))
}
