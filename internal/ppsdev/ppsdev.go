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

// Package ppsdev reads PPS assert edges off a PHC's EXTTS sink and reduces
// them to a timestamp plus a sub-second residual offset, optionally
// recovering the integer-second portion of the phase from a PHC master.
package ppsdev

import (
	"fmt"
	"time"

	"github.com/teragrep-clocksync/phc2sys/internal/clockhandle"
	"github.com/teragrep-clocksync/phc2sys/phc"
)

// ReadTimeout bounds how long Reader.Read blocks waiting for an edge.
const ReadTimeout = 10 * time.Second

// boundaryTolerance is the maximum distance a recovered master timestamp
// may sit from an exact second boundary before the sample is rejected.
const boundaryTolerance = 10 * time.Millisecond

// Result is a single reduced PPS edge.
type Result struct {
	Timestamp time.Time
	Residual  time.Duration
}

// Reader blocks for PPS assert edges on a PHC sink device.
type Reader struct {
	sink *phc.PPSSink
}

// NewSource activates dev as a PPS-Out source on the given pin, mirroring
// phc.ActivatePPSSource.
func NewSource(dev phc.DeviceController, pinIndex uint) (*phc.PPSSource, error) {
	return phc.ActivatePPSSource(dev, pinIndex)
}

// NewReader configures dev as a PPS sink on the given pin and returns a
// Reader that blocks for edges on it.
func NewReader(dev phc.DeviceController, pinIndex uint) (*Reader, error) {
	sink, err := phc.PPSSinkFromDevice(dev, pinIndex)
	if err != nil {
		return nil, err
	}
	return &Reader{sink: sink}, nil
}

// Read blocks up to ReadTimeout for the next PPS edge, reducing it to a
// timestamp and sub-second residual offset. If master is non-nil, the
// integer-second portion of the phase is corroborated against the master
// clock (adjusted by offsetToSlave); a sample more than 10ms away from an
// exact second boundary on the master side is rejected.
func (r *Reader) Read(master clockhandle.Handle, offsetToSlave time.Duration) (Result, error) {
	deadline := time.Now().Add(ReadTimeout)
	var ts time.Time
	var err error
	for {
		ts, err = r.sink.PollPPSSink()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return Result{}, fmt.Errorf("timed out waiting for PPS edge: %w", err)
		}
	}

	if master == nil {
		return reduce(ts), nil
	}

	masterNow, err := master.Now()
	if err != nil {
		return Result{}, fmt.Errorf("reading master clock for PPS phase recovery: %w", err)
	}
	return recoverWithMaster(ts, masterNow, offsetToSlave)
}

// reduce folds ts into an integer-second timestamp plus a residual in
// [-5e8, 5e8) ns, per the sub-second-offset convention.
func reduce(ts time.Time) Result {
	tsNs := ts.UnixNano()
	residual := tsNs % int64(time.Second)
	if residual >= int64(time.Second)/2 {
		residual -= int64(time.Second)
	} else if residual < -int64(time.Second)/2 {
		residual += int64(time.Second)
	}
	return Result{
		Timestamp: time.Unix(0, tsNs-residual),
		Residual:  time.Duration(residual),
	}
}

// recoverWithMaster recovers the integer-second portion of the PPS phase
// from the master clock, rejecting the sample if the master (adjusted by
// offsetToSlave) is not within boundaryTolerance of an exact second.
func recoverWithMaster(ts, masterNow time.Time, offsetToSlave time.Duration) (Result, error) {
	adjusted := masterNow.Add(-offsetToSlave)
	nanos := adjusted.UnixNano()
	distance := nanos % int64(time.Second)
	if distance >= int64(time.Second)/2 {
		distance -= int64(time.Second)
	} else if distance < -int64(time.Second)/2 {
		distance += int64(time.Second)
	}
	if time.Duration(distance).Abs() > boundaryTolerance {
		return Result{}, fmt.Errorf("recovered master phase %s away from second boundary, exceeds %s tolerance",
			time.Duration(distance), boundaryTolerance)
	}

	edge := reduce(ts)
	recoveredSec := adjusted.Add(-time.Duration(distance)).Unix()
	return Result{
		Timestamp: time.Unix(recoveredSec, 0),
		Residual:  edge.Residual,
	}, nil
}
