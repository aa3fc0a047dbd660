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

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushDisabledWindowAlwaysTraces(t *testing.T) {
	r := New(0)
	trace, summary := r.Push(100, 5, 10, true)
	require.Nil(t, summary)
	require.NotNil(t, trace)
	require.Equal(t, 100.0, trace.OffsetNS)
}

func TestPushAccumulatesUntilWindowFills(t *testing.T) {
	r := New(3)

	trace, summary := r.Push(10, 1, 0, false)
	require.Nil(t, trace)
	require.Nil(t, summary)

	trace, summary = r.Push(-20, 2, 0, false)
	require.Nil(t, trace)
	require.Nil(t, summary)

	trace, summary = r.Push(30, 3, 0, false)
	require.Nil(t, trace)
	require.NotNil(t, summary)
	require.Equal(t, 3, summary.Samples)
	require.Equal(t, 30.0, summary.OffsetMax)
	require.False(t, summary.HaveDelay)
}

func TestPushResetsAfterWindowFills(t *testing.T) {
	r := New(2)
	r.Push(10, 1, 0, false)
	_, summary := r.Push(10, 1, 0, false)
	require.NotNil(t, summary)

	// Window should have reset: one more sample must not immediately fill it.
	_, summary = r.Push(10, 1, 0, false)
	require.Nil(t, summary)
}

func TestPushTracksDelayOnlyWhenProvided(t *testing.T) {
	r := New(2)
	r.Push(10, 1, 100, true)
	_, summary := r.Push(10, 1, 200, true)
	require.NotNil(t, summary)
	require.True(t, summary.HaveDelay)
	require.Equal(t, 150.0, summary.DelayMean)
}
