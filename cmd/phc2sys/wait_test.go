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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

type fakePortDataSetClient struct {
	responses   []protocol.PortState
	idx         int
	outstanding bool
	requestErr  error
	pollErr     error
}

func (f *fakePortDataSetClient) RequestPortDataSet() error {
	if f.requestErr != nil {
		return f.requestErr
	}
	f.outstanding = true
	return nil
}

func (f *fakePortDataSetClient) Poll(time.Duration) (bool, error) {
	if f.pollErr != nil {
		return false, f.pollErr
	}
	if !f.outstanding || f.idx >= len(f.responses) {
		return false, nil
	}
	f.outstanding = false
	f.idx++
	return true, nil
}

func (f *fakePortDataSetClient) LastPortDataSet() *protocol.PortDataSetTLV {
	if f.idx == 0 {
		return nil
	}
	resp := protocol.NewPortDataSetResponse(f.responses[f.idx-1])
	return resp.TLV.(*protocol.PortDataSetTLV)
}

func (f *fakePortDataSetClient) ClearOutstanding() { f.outstanding = false }

func TestPortStateReady(t *testing.T) {
	require.True(t, portStateReady(protocol.PortStateMaster))
	require.True(t, portStateReady(protocol.PortStateSlave))
	require.False(t, portStateReady(protocol.PortStateListening))
}

func TestWaitForPeerSucceedsImmediately(t *testing.T) {
	c := &fakePortDataSetClient{responses: []protocol.PortState{protocol.PortStateSlave}}
	now := time.Unix(1_700_000_000, 0)
	err := waitForPeer(c, time.Second, time.Minute,
		func() time.Time { return now },
		func(time.Duration) {},
	)
	require.NoError(t, err)
}

func TestWaitForPeerRetriesThroughNonTerminalStates(t *testing.T) {
	c := &fakePortDataSetClient{responses: []protocol.PortState{
		protocol.PortStateListening,
		protocol.PortStatePreMaster,
		protocol.PortStateMaster,
	}}
	now := time.Unix(1_700_000_000, 0)
	var slept int
	err := waitForPeer(c, time.Second, time.Minute,
		func() time.Time { return now },
		func(time.Duration) { slept++ },
	)
	require.NoError(t, err)
	require.Equal(t, 2, slept)
}

func TestWaitForPeerTimesOut(t *testing.T) {
	c := &fakePortDataSetClient{}
	now := time.Unix(1_700_000_000, 0)
	calls := 0
	err := waitForPeer(c, time.Second, 2*time.Second,
		func() time.Time {
			calls++
			return now.Add(time.Duration(calls) * time.Second)
		},
		func(time.Duration) {},
	)
	require.Error(t, err)
}

func TestWaitForPeerPropagatesRequestError(t *testing.T) {
	c := &fakePortDataSetClient{requestErr: errors.New("socket closed")}
	now := time.Unix(1_700_000_000, 0)
	err := waitForPeer(c, time.Second, time.Minute,
		func() time.Time { return now },
		func(time.Duration) {},
	)
	require.Error(t, err)
}
