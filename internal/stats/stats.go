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

// Package stats accumulates a bounded window of offset/frequency/delay
// samples and summarizes it once the window fills, or emits a raw
// one-line trace per sample when windowing is disabled.
package stats

import (
	"fmt"
	"math"

	"github.com/eclesh/welford"
)

// Summary is emitted once a window of W samples has accumulated.
type Summary struct {
	Samples    int
	OffsetRMS  float64
	OffsetMax  float64
	FreqMean   float64
	FreqStddev float64
	// DelayMean/DelayStddev are zero-valued and HaveDelay is false when
	// delay wasn't available for any sample in the window (e.g. PPS mode).
	DelayMean   float64
	DelayStddev float64
	HaveDelay   bool
}

// Reporter accumulates samples into a window of size W; W == 0 disables
// windowing and every sample is reported immediately via Trace.
type Reporter struct {
	window int

	offsetSq *welford.Stats
	offsetMax float64
	freq      *welford.Stats
	delay     *welford.Stats
	haveDelay bool
	count     int
}

// New builds a Reporter with the given window size. window == 0 disables
// summarization; every sample then produces a Trace line instead.
func New(window int) *Reporter {
	return &Reporter{window: window}
}

func (r *Reporter) reset() {
	r.offsetSq = welford.New()
	r.offsetMax = 0
	r.freq = welford.New()
	r.delay = welford.New()
	r.haveDelay = false
	r.count = 0
}

// Trace is a raw one-line trace of a single sample, emitted when
// windowing is disabled.
type Trace struct {
	OffsetNS float64
	FreqPPB  float64
	DelayNS  float64
	HaveDelay bool
}

// String renders a Trace as one line of its offset, frequency and,
// when known, delay.
func (t Trace) String() string {
	if t.HaveDelay {
		return fmt.Sprintf("offset %10.0f freq %+9.0f delay %10.0f", t.OffsetNS, t.FreqPPB, t.DelayNS)
	}
	return fmt.Sprintf("offset %10.0f freq %+9.0f", t.OffsetNS, t.FreqPPB)
}

// String renders a Summary as one line of its offset, frequency and,
// when known, delay statistics plus the sample count.
func (s Summary) String() string {
	if s.HaveDelay {
		return fmt.Sprintf("rms %10.0f max %10.0f freq %+9.0f +/- %9.0f delay %10.0f +/- %9.0f (%d samples)",
			s.OffsetRMS, s.OffsetMax, s.FreqMean, s.FreqStddev, s.DelayMean, s.DelayStddev, s.Samples)
	}
	return fmt.Sprintf("rms %10.0f max %10.0f freq %+9.0f +/- %9.0f (%d samples)",
		s.OffsetRMS, s.OffsetMax, s.FreqMean, s.FreqStddev, s.Samples)
}

// Push records a sample. When windowing is disabled it returns a Trace for
// immediate emission; when the window fills it returns a Summary and
// resets for the next window. At most one of the two return values is
// non-nil; both are nil while a window is still filling.
func (r *Reporter) Push(offsetNS, freqPPB float64, delayNS float64, haveDelay bool) (*Trace, *Summary) {
	if r.window <= 0 {
		return &Trace{OffsetNS: offsetNS, FreqPPB: freqPPB, DelayNS: delayNS, HaveDelay: haveDelay}, nil
	}

	if r.offsetSq == nil {
		r.reset()
	}

	r.offsetSq.Add(offsetNS * offsetNS)
	absOffset := math.Abs(offsetNS)
	if absOffset > r.offsetMax {
		r.offsetMax = absOffset
	}
	r.freq.Add(freqPPB)
	if haveDelay {
		r.delay.Add(delayNS)
		r.haveDelay = true
	}
	r.count++

	if r.count < r.window {
		return nil, nil
	}

	summary := Summary{
		Samples:    r.count,
		OffsetRMS:  math.Sqrt(r.offsetSq.Mean()),
		OffsetMax:  r.offsetMax,
		FreqMean:   r.freq.Mean(),
		FreqStddev: r.freq.Stddev(),
		HaveDelay:  r.haveDelay,
	}
	if r.haveDelay {
		summary.DelayMean = r.delay.Mean()
		summary.DelayStddev = r.delay.Stddev()
	}
	r.reset()
	return nil, &summary
}
