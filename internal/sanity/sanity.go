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

// Package sanity guards a disciplined clock against out-of-band jumps and
// frequency adjustments outside the configured bound, signaling the main
// loop to reset the servo when either is observed.
package sanity

import "time"

// Checker tracks one clock's sample history across ticks.
type Checker struct {
	expectedInterval time.Duration
	tolerance        time.Duration
	maxFreqPPB       float64

	haveLast  bool
	lastTS    time.Time
	lastStep  bool
}

// New builds a Checker expecting samples roughly expectedInterval apart,
// tolerating up to tolerance of drift around that, and rejecting any
// frequency magnitude above maxFreqPPB.
func New(expectedInterval, tolerance time.Duration, maxFreqPPB float64) *Checker {
	return &Checker{
		expectedInterval: expectedInterval,
		tolerance:        tolerance,
		maxFreqPPB:       maxFreqPPB,
	}
}

// NotifyStep tells the checker a deliberate step to newTS was just applied,
// so the next Check does not flag it as an external jump.
func (c *Checker) NotifyStep(newTS time.Time) {
	c.haveLast = true
	c.lastTS = newTS
	c.lastStep = true
}

// Check evaluates the newly computed sample timestamp ts and the
// frequency-in-ppb about to be applied. It returns true if the servo
// should be reset: either ts arrived at an interval far from
// expectedInterval (and wasn't announced via NotifyStep), or freqPPB
// exceeds maxFreqPPB.
func (c *Checker) Check(ts time.Time, freqPPB float64) bool {
	reset := false

	if freqPPB < 0 {
		freqPPB = -freqPPB
	}
	if c.maxFreqPPB > 0 && freqPPB > c.maxFreqPPB {
		reset = true
	}

	if c.haveLast && !c.lastStep {
		interval := ts.Sub(c.lastTS)
		drift := interval - c.expectedInterval
		if drift < 0 {
			drift = -drift
		}
		if drift > c.tolerance {
			reset = true
		}
	}

	c.haveLast = true
	c.lastTS = ts
	c.lastStep = false
	return reset
}
