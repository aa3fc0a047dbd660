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

// Package switchcfg decodes an SJA1105-class switch's TAS/Qbv staging
// area and derives the schedule's cycle length, with an optional yaml
// file to override values the staging area doesn't carry (device path,
// bus parameters).
package switchcfg

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// timeBaseUnitsToNS converts the device's internal time-base unit used
// by per-slot delta values into nanoseconds.
const timeBaseUnitsToNS = 200

// Slot is one entry of the TAS/Qbv gate-control list: a per-port gate
// state held for Delta time-base units.
type Slot struct {
	GateStates uint8
	Delta      uint32
}

// Schedule is the decoded TAS/Qbv staging area for one switch.
type Schedule struct {
	Slots []Slot
}

// CycleLength returns the schedule's total cycle duration: the sum of
// every slot's Delta, converted from time-base units to nanoseconds and
// reduced to whole (sec, nsec).
func (s Schedule) CycleLength() (sec int64, nsec int64) {
	var totalNS int64
	for _, slot := range s.Slots {
		totalNS += int64(slot.Delta) * timeBaseUnitsToNS
	}
	return totalNS / int64(time.Second), totalNS % int64(time.Second)
}

// slotRecordSize is the staging-area's per-slot record: 1 byte of gate
// states followed by a 4-byte little-endian delta, matching the
// device's schedule-table entry layout.
const slotRecordSize = 5

// DecodeStagingArea parses a raw TAS/Qbv staging-area image (as read from
// /lib/firmware/sja1105.bin or over SPI) into a Schedule.
func DecodeStagingArea(data []byte) (Schedule, error) {
	if len(data) == 0 {
		return Schedule{}, fmt.Errorf("empty staging area")
	}
	if len(data)%slotRecordSize != 0 {
		return Schedule{}, fmt.Errorf("staging area length %d not a multiple of slot record size %d", len(data), slotRecordSize)
	}
	n := len(data) / slotRecordSize
	slots := make([]Slot, n)
	for i := 0; i < n; i++ {
		off := i * slotRecordSize
		slots[i] = Slot{
			GateStates: data[off],
			Delta:      binary.LittleEndian.Uint32(data[off+1 : off+5]),
		}
	}
	return Schedule{Slots: slots}, nil
}

// Overrides is optional yaml-sourced configuration layered on top of
// values derived from the staging area or passed on the command line.
type Overrides struct {
	SPIDevice   string  `yaml:"spidevice"`
	SPISpeedHz  uint32  `yaml:"spispeedhz"`
	MaxOffsetUS float64 `yaml:"maxoffsetus"`
}

// LoadOverrides reads an optional yaml override file. A missing file is
// not an error: the external switch servo runs with built-in defaults
// when no override is configured.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Overrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading switch config override %s: %w", path, err)
	}
	o := Overrides{}
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return nil, fmt.Errorf("parsing switch config override %s: %w", path, err)
	}
	return &o, nil
}
