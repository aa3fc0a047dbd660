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

// Package offset estimates the offset between a master and a slave clock,
// either via three-timestamp brackets read through clockhandle.Handle or,
// when the kernel supports it, via a single PTP_SYS_OFFSET_EXTENDED ioctl.
package offset

import (
	"fmt"
	"time"

	"github.com/teragrep-clocksync/phc2sys/internal/clockhandle"
	"github.com/teragrep-clocksync/phc2sys/phc"
)

// Result is a single offset measurement: the slave-minus-master offset, the
// slave-side timestamp the measurement is attributed to, and the round-trip
// delay (bracket interval) the measurement was taken over.
type Result struct {
	Offset    time.Duration
	Timestamp time.Time
	Delay     time.Duration
}

// EstimateBracket takes best-of-n three-timestamp reads (dst, src, dst) and
// returns the slave-minus-master offset, the slave timestamp and the
// round-trip delay of the iteration with the smallest bracket interval.
// Any failing clock read fails the whole estimate.
func EstimateBracket(src, dst clockhandle.Handle, n int) (Result, error) {
	if n < 1 {
		n = 1
	}
	var best Result
	haveBest := false

	for i := 0; i < n; i++ {
		tDst1, err := dst.Now()
		if err != nil {
			return Result{}, fmt.Errorf("reading slave clock: %w", err)
		}
		tSrc, err := src.Now()
		if err != nil {
			return Result{}, fmt.Errorf("reading master clock: %w", err)
		}
		tDst2, err := dst.Now()
		if err != nil {
			return Result{}, fmt.Errorf("reading slave clock: %w", err)
		}

		interval := tDst2.Sub(tDst1)
		cand := Result{
			Offset:    tDst1.Sub(tSrc) + interval/2,
			Timestamp: tDst2,
			Delay:     interval,
		}
		if !haveBest || interval < best.Delay {
			best = cand
			haveBest = true
		}
	}
	return best, nil
}

// SysoffSupported reports whether EstimateSysoff can be used for this pair:
// only when the slave is the wall clock and the master PHC advertises
// sysoff support.
func SysoffSupported(src, dst clockhandle.Handle) bool {
	return dst.IsUTC() && !src.IsUTC() && src.SysoffSupported()
}

// EstimateSysoff produces an equivalent (offset, ts, delay) tuple to
// EstimateBracket in a single syscall, by issuing PTP_SYS_OFFSET_EXTENDED
// against the master PHC device path via phc.TimeAndOffsetFromDevice and
// keeping the bracket with the smallest interval.
func EstimateSysoff(masterDevicePath string, n int) (Result, error) {
	sysoff, err := phc.TimeAndOffsetFromDevice(masterDevicePath, phc.MethodIoctlSysOffsetExtended, n)
	if err != nil {
		return Result{}, fmt.Errorf("reading extended sysoff: %w", err)
	}

	return Result{
		Offset:    sysoff.Offset,
		Timestamp: sysoff.SysTime,
		Delay:     sysoff.Delay,
	}, nil
}
