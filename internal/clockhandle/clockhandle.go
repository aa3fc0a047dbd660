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

// Package clockhandle unifies the system wall clock and a PHC character
// device behind one interface, so the rest of the control loop never has
// to care which kind of clock it is driving.
package clockhandle

import (
	"fmt"
	"time"

	"github.com/teragrep-clocksync/phc2sys/internal/clockctl"
	"github.com/teragrep-clocksync/phc2sys/internal/phcdev"
	"github.com/teragrep-clocksync/phc2sys/phc"
)

// CLOCKRealtimeName is the sentinel name that resolves to the system wall clock.
const CLOCKRealtimeName = "CLOCK_REALTIME"

// Handle is a time source: the system wall clock or a PHC device.
type Handle interface {
	// Name is the label the clock was opened with.
	Name() string
	// IsUTC is true for the wall clock, false for a PHC/TAI clock.
	IsUTC() bool
	// Now reads the clock's current time.
	Now() (time.Time, error)
	// Step applies a one-shot offset.
	Step(delta time.Duration) error
	// SetFreq sets the clock's frequency offset in PPB.
	SetFreq(ppb float64) error
	// GetFreq reads the clock's current frequency offset in PPB.
	GetFreq() (float64, error)
	// MaxAdjustPPB returns the maximum adjustable frequency, in PPB.
	MaxAdjustPPB() float64
	// HasPPSOutput reports whether this clock can drive a PPS-Out signal.
	HasPPSOutput() bool
	// SysoffSupported reports whether this clock can service a single-call
	// (offset, ts, delay) read for a slave that is the wall clock.
	SysoffSupported() bool
	// RequestLeap asks the kernel to insert (insert=true) or delete
	// (insert=false) a leap second at the next UTC midnight. A no-op for
	// clocks with no kernel leap-insertion analog (PHCs).
	RequestLeap(insert bool) error
	// Close releases any OS resources backing the clock.
	Close() error
}

// Open resolves name into a Handle. CLOCK_REALTIME resolves to the wall
// clock; anything else is tried first as a PHC device path, then as a
// network interface name.
func Open(name string) (Handle, error) {
	if name == CLOCKRealtimeName {
		h := &wallClockHandle{ctl: clockctl.New()}
		maxPPB, err := h.ctl.MaxFreqAdjPPB()
		if err != nil {
			return nil, fmt.Errorf("opening wall clock: %w", err)
		}
		h.maxPPB = maxPPB
		if err := h.establishKnownState(); err != nil {
			return nil, fmt.Errorf("opening wall clock: %w", err)
		}
		return h, nil
	}
	return openPHC(name)
}

func openPHC(name string) (Handle, error) {
	dev, err := phcdev.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening PHC clock %q: %w", name, err)
	}
	maxPPB, err := phcdev.MaxFreqAdjPPB(dev)
	if err != nil {
		dev.File().Close()
		return nil, fmt.Errorf("opening PHC clock %q: %w", name, err)
	}
	ppsOut, err := phcdev.HasPPSOutput(dev)
	if err != nil {
		dev.File().Close()
		return nil, fmt.Errorf("opening PHC clock %q: %w", name, err)
	}
	h := &phcHandle{name: name, dev: dev, maxPPB: maxPPB, ppsOutput: ppsOut}
	if err := h.establishKnownState(); err != nil {
		dev.File().Close()
		return nil, fmt.Errorf("opening PHC clock %q: %w", name, err)
	}
	return h, nil
}

type wallClockHandle struct {
	ctl    *clockctl.Clock
	maxPPB float64
}

func (h *wallClockHandle) Name() string { return CLOCKRealtimeName }
func (h *wallClockHandle) IsUTC() bool  { return true }
func (h *wallClockHandle) Now() (time.Time, error) {
	return time.Now(), nil
}
func (h *wallClockHandle) Step(delta time.Duration) error    { return h.ctl.Step(delta) }
func (h *wallClockHandle) SetFreq(ppb float64) error          { return h.ctl.AdjFreq(ppb) }
func (h *wallClockHandle) GetFreq() (float64, error)          { return h.ctl.FreqPPB() }
func (h *wallClockHandle) MaxAdjustPPB() float64              { return h.maxPPB }
func (h *wallClockHandle) HasPPSOutput() bool                 { return false }
func (h *wallClockHandle) SysoffSupported() bool              { return false }
func (h *wallClockHandle) RequestLeap(insert bool) error      { return h.ctl.RequestLeap(insert) }
func (h *wallClockHandle) Close() error                       { return nil }
func (h *wallClockHandle) establishKnownState() error         { return h.ctl.EstablishKnownState() }

type phcHandle struct {
	name      string
	dev       *phc.Device
	maxPPB    float64
	ppsOutput bool
}

func (h *phcHandle) Name() string { return h.name }
func (h *phcHandle) IsUTC() bool  { return false }
func (h *phcHandle) Now() (time.Time, error) {
	return h.dev.Time()
}
func (h *phcHandle) Step(delta time.Duration) error { return h.dev.Step(delta) }
func (h *phcHandle) SetFreq(ppb float64) error      { return h.dev.AdjFreq(ppb) }
func (h *phcHandle) GetFreq() (float64, error)      { return h.dev.FreqPPB() }
func (h *phcHandle) MaxAdjustPPB() float64          { return h.maxPPB }
func (h *phcHandle) HasPPSOutput() bool             { return h.ppsOutput }
func (h *phcHandle) SysoffSupported() bool          { return true }
func (h *phcHandle) RequestLeap(bool) error          { return nil }
func (h *phcHandle) Close() error                   { return h.dev.File().Close() }

// establishKnownState implements the open-time contract: a get_freq
// reading of 0 is indistinguishable from "unknown", so the value read at
// open is immediately written back to force a known state.
func (h *phcHandle) establishKnownState() error {
	freqPPB, err := h.dev.FreqPPB()
	if err != nil {
		return err
	}
	return h.dev.AdjFreq(freqPPB)
}
