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

package sanity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckFirstSampleNeverResets(t *testing.T) {
	c := New(time.Second, 100*time.Millisecond, 500000)
	require.False(t, c.Check(time.Unix(1000, 0), 100))
}

func TestCheckNormalIntervalDoesNotReset(t *testing.T) {
	c := New(time.Second, 100*time.Millisecond, 500000)
	c.Check(time.Unix(1000, 0), 100)
	require.False(t, c.Check(time.Unix(1001, 0), 100))
}

func TestCheckOutOfBandJumpResets(t *testing.T) {
	c := New(time.Second, 100*time.Millisecond, 500000)
	c.Check(time.Unix(1000, 0), 100)
	require.True(t, c.Check(time.Unix(1005, 0), 100))
}

func TestCheckFrequencyOverLimitResets(t *testing.T) {
	c := New(time.Second, 100*time.Millisecond, 500000)
	c.Check(time.Unix(1000, 0), 100)
	require.True(t, c.Check(time.Unix(1001, 0), 600000))
}

func TestNotifyStepSuppressesNextJumpDetection(t *testing.T) {
	c := New(time.Second, 100*time.Millisecond, 500000)
	c.Check(time.Unix(1000, 0), 100)
	c.NotifyStep(time.Unix(1010, 0))
	require.False(t, c.Check(time.Unix(1011, 0), 100))
}
