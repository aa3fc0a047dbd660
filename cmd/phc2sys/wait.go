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

	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

// portDataSetClient is the slice of mgmtclient.Client the -w wait needs;
// narrowed to an interface so the polling loop can be driven by a fake.
type portDataSetClient interface {
	RequestPortDataSet() error
	Poll(timeout time.Duration) (bool, error)
	LastPortDataSet() *protocol.PortDataSetTLV
	ClearOutstanding()
}

// portStateReady reports whether ps is one of the two states -w waits for.
func portStateReady(ps protocol.PortState) bool {
	return ps == protocol.PortStateMaster || ps == protocol.PortStateSlave
}

// pollPortState issues (or continues) a single PORT_DATA_SET request and
// reports the port state it settled on, if any arrived within timeout.
func pollPortState(c portDataSetClient, timeout time.Duration) (protocol.PortState, bool, error) {
	if err := c.RequestPortDataSet(); err != nil {
		return 0, false, fmt.Errorf("requesting port data set: %w", err)
	}
	ok, err := c.Poll(timeout)
	if err != nil {
		return 0, false, fmt.Errorf("polling port data set: %w", err)
	}
	if !ok {
		c.ClearOutstanding()
		return 0, false, nil
	}
	tlv := c.LastPortDataSet()
	if tlv == nil {
		return 0, false, nil
	}
	return tlv.PortState, true, nil
}

// waitForPeer implements -w: poll PORT_DATA_SET, retrying on any port state
// other than MASTER/SLAVE, until one matches or maxWait elapses. maxWait <=
// 0 means retry forever, matching the per-poll (not overall) timeout the
// management protocol defines.
func waitForPeer(c portDataSetClient, pollTimeout, maxWait time.Duration, now func() time.Time, sleep func(time.Duration)) error {
	var deadline time.Time
	if maxWait > 0 {
		deadline = now().Add(maxWait)
	}
	for {
		state, got, err := pollPortState(c, pollTimeout)
		if err != nil {
			return err
		}
		if got && portStateReady(state) {
			return nil
		}
		if !deadline.IsZero() && now().After(deadline) {
			return fmt.Errorf("timed out waiting for management peer to reach MASTER/SLAVE")
		}
		sleep(time.Second)
	}
}
