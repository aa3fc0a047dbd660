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

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/teragrep-clocksync/phc2sys/internal/clockhandle"
	"github.com/teragrep-clocksync/phc2sys/internal/leap"
	"github.com/teragrep-clocksync/phc2sys/internal/loop"
	"github.com/teragrep-clocksync/phc2sys/internal/mgmtclient"
	"github.com/teragrep-clocksync/phc2sys/internal/phcdev"
	"github.com/teragrep-clocksync/phc2sys/internal/ppsdev"
	"github.com/teragrep-clocksync/phc2sys/internal/sanity"
	"github.com/teragrep-clocksync/phc2sys/internal/servoadapter"
	"github.com/teragrep-clocksync/phc2sys/internal/stats"
)

// refreshInterval is how often the leap coordinator re-polls
// TIME_PROPERTIES_DATA_SET, well above the spec's 60s floor.
const refreshInterval = 64 * time.Second

// ppsPinIndex is the PHC pin used for PPS source/sink activation; this
// binary drives exactly one PPS channel, so it is not user-configurable.
const ppsPinIndex = 0

// direction implements the sync_offset sign convention: slave.is_utc -
// master.is_utc.
func direction(slaveUTC, masterUTC bool) int32 {
	var d int32
	if slaveUTC {
		d++
	}
	if masterUTC {
		d--
	}
	return d
}

// buildLeapCoordinator opens the management channel (unless the offset was
// forced on the command line, which inhibits it entirely) and wires the
// leap policy selected by -x.
func buildLeapCoordinator(cfg *config) (*leap.Coordinator, *mgmtclient.Client, error) {
	policy := leap.PolicyKernel
	if cfg.leapViaServo {
		policy = leap.PolicyServo
	}

	if cfg.forcedOffsetSet {
		return leap.New(nil, refreshInterval, policy, int32(cfg.forcedOffsetSec), true), nil, nil
	}

	client, err := mgmtclient.Dial(mgmtclient.DefaultSocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing management socket: %w", err)
	}
	return leap.New(client, refreshInterval, policy, 0, false), client, nil
}

// buildSlave wires one disciplined clock's servo, sanity checker and stats
// reporter around an already-open handle.
func buildSlave(cfg *config, handle clockhandle.Handle, masterUTC bool) (*loop.Slave, error) {
	adapter, err := servoadapter.New(cfg.interval(), cfg.firstStepThresh, cfg.stepThreshold, handle, 0, cfg.kpScale, cfg.kiScale)
	if err != nil {
		return nil, fmt.Errorf("building servo for %s: %w", handle.Name(), err)
	}
	return &loop.Slave{
		Name:      handle.Name(),
		Handle:    handle,
		Servo:     adapter,
		Sanity:    sanity.New(cfg.interval(), cfg.interval()/2, cfg.sanityLimitPPB),
		Stats:     stats.New(cfg.statsWindow),
		Direction: direction(handle.IsUTC(), masterUTC),
	}, nil
}

// run assembles every component named in the spec and drives the control
// loop indefinitely. It returns only on a fatal-init failure. ready, if
// non-nil, is invoked once initialization has completed successfully and
// the loop is about to start.
func run(cfg *config, ready func()) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.ppsMode() && cfg.masterDevice == "" {
		// A bare PPS signal cannot carry the TAI/UTC delta.
		cfg.forcedOffsetSet = true
		cfg.forcedOffsetSec = 0
	}

	leapCoord, mgmt, err := buildLeapCoordinator(cfg)
	if err != nil {
		return err
	}
	if mgmt != nil {
		defer mgmt.Close()
		if cfg.waitForPeer {
			log.Info("waiting for management peer to reach MASTER or SLAVE")
			if err := waitForPeer(mgmt, 2*time.Second, 0 /* no overall deadline */, time.Now, time.Sleep); err != nil {
				return fmt.Errorf("waiting for management peer: %w", err)
			}
		}
	}

	slaveHandle, err := clockhandle.Open(cfg.slaveDevice)
	if err != nil {
		return fmt.Errorf("opening slave clock %q: %w", cfg.slaveDevice, err)
	}
	defer slaveHandle.Close()

	if cfg.ppsMode() {
		return runPPS(cfg, slaveHandle, leapCoord, ready)
	}
	return runPHC(cfg, slaveHandle, leapCoord, ready)
}

func runPHC(cfg *config, slaveHandle clockhandle.Handle, leapCoord *leap.Coordinator, ready func()) error {
	masterHandle, err := clockhandle.Open(cfg.masterDevice)
	if err != nil {
		return fmt.Errorf("opening master clock %q: %w", cfg.masterDevice, err)
	}
	defer masterHandle.Close()

	slave, err := buildSlave(cfg, slaveHandle, masterHandle.IsUTC())
	if err != nil {
		return err
	}

	l := &loop.Loop{
		Master:     masterHandle,
		MasterName: masterHandle.Name(),
		Slaves:     []*loop.Slave{slave},
		Leap:       leapCoord,
		NSamples:   cfg.nsamples,
		Interval:   cfg.interval(),
		Verbose:    cfg.verboseStatus,
	}

	if ready != nil {
		ready()
	}
	for ; ; time.Sleep(l.Interval) {
		if err := l.Tick(time.Now()); err != nil {
			log.Warningf("tick failed: %v", err)
		}
	}
}

func runPPS(cfg *config, slaveHandle clockhandle.Handle, leapCoord *leap.Coordinator, ready func()) error {
	sinkDev, err := phcdev.Open(cfg.masterPPSDevice)
	if err != nil {
		return fmt.Errorf("opening PPS device %q: %w", cfg.masterPPSDevice, err)
	}
	defer sinkDev.File().Close()

	reader, err := ppsdev.NewReader(sinkDev, ppsPinIndex)
	if err != nil {
		return fmt.Errorf("configuring PPS sink on %q: %w", cfg.masterPPSDevice, err)
	}

	var masterHandle clockhandle.Handle
	masterUTC := false
	if cfg.masterDevice != "" {
		masterDev, err := phcdev.Open(cfg.masterDevice)
		if err != nil {
			return fmt.Errorf("opening PPS source PHC %q: %w", cfg.masterDevice, err)
		}
		if _, err := ppsdev.NewSource(masterDev, ppsPinIndex); err != nil {
			masterDev.File().Close()
			return fmt.Errorf("activating PPS output on %q: %w", cfg.masterDevice, err)
		}
		masterDev.File().Close()

		masterHandle, err = clockhandle.Open(cfg.masterDevice)
		if err != nil {
			return fmt.Errorf("opening master clock %q: %w", cfg.masterDevice, err)
		}
		defer masterHandle.Close()
		masterUTC = masterHandle.IsUTC()
	}

	slave, err := buildSlave(cfg, slaveHandle, masterUTC)
	if err != nil {
		return err
	}

	l := &loop.Loop{
		Master:    masterHandle,
		Slaves:    []*loop.Slave{slave},
		Leap:      leapCoord,
		NSamples:  cfg.nsamples,
		Interval:  cfg.interval(),
		PPSReader: reader,
		Verbose:   cfg.verboseStatus,
	}

	masterOffsetToSlave := time.Duration(slave.Direction) * time.Duration(leapCoord.SyncOffset()) * time.Second
	if ready != nil {
		ready()
	}
	for {
		if err := l.TickPPS(masterOffsetToSlave); err != nil {
			log.Warningf("tick failed: %v", err)
		}
	}
}
