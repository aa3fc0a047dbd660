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

package mgmtclient

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

func newSocketPair(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "mgmt.sock")

	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			serverConnCh <- conn
		}
	}()

	client, err := Dial(sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })

	return client, serverConn
}

func TestDialMissingSocket(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "nonexistent.sock"))
	require.Error(t, err)
}

func TestRequestPortDataSetNoOpWhenOutstanding(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	require.NoError(t, client.RequestPortDataSet())
	require.Equal(t, KindPortDataSet, client.Outstanding())

	// A second request while one is outstanding must not send anything new.
	require.NoError(t, client.RequestPortDataSet())
	require.Equal(t, KindPortDataSet, client.Outstanding())

	require.NoError(t, client.RequestTimePropertiesDataSet())
	require.Equal(t, KindPortDataSet, client.Outstanding())
}

func TestPollPortDataSetRoundTrip(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	require.NoError(t, client.RequestPortDataSet())

	readN, err := readManagementRequest(server)
	require.NoError(t, err)
	require.Equal(t, protocol.IDPortDataSet, readN.MgmtID())

	resp := protocol.NewPortDataSetResponse(protocol.PortStateSlave)
	b, err := resp.MarshalBinary()
	require.NoError(t, err)
	_, err = server.Write(b)
	require.NoError(t, err)

	ok, err := client.Poll(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindNone, client.Outstanding())

	tlv := client.LastPortDataSet()
	require.NotNil(t, tlv)
	require.Equal(t, protocol.PortStateSlave, tlv.PortState)
}

func TestPollTimePropertiesDataSetRoundTrip(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	require.NoError(t, client.RequestTimePropertiesDataSet())

	_, err := readManagementRequest(server)
	require.NoError(t, err)

	resp := protocol.NewTimePropertiesDataSetResponse(37, uint8(protocol.FlagPTPTimescale|protocol.FlagCurrentUtcOffsetValid))
	b, err := resp.MarshalBinary()
	require.NoError(t, err)
	_, err = server.Write(b)
	require.NoError(t, err)

	ok, err := client.Poll(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	tlv := client.LastTimePropertiesDataSet()
	require.NotNil(t, tlv)
	require.Equal(t, int16(37), tlv.CurrentUTCOffset)
	require.Equal(t, uint8(protocol.FlagPTPTimescale|protocol.FlagCurrentUtcOffsetValid), tlv.Flags)
}

func TestPollTimeout(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	require.NoError(t, client.RequestPortDataSet())

	ok, err := client.Poll(50 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	// A timeout does not clear the outstanding flag on its own.
	require.Equal(t, KindPortDataSet, client.Outstanding())

	client.ClearOutstanding()
	require.Equal(t, KindNone, client.Outstanding())
}

func TestPollMismatchedResponseType(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	require.NoError(t, client.RequestPortDataSet())

	_, err := readManagementRequest(server)
	require.NoError(t, err)

	// Respond with the wrong TLV kind for the outstanding request.
	resp := protocol.NewTimePropertiesDataSetResponse(0, 0)
	b, err := resp.MarshalBinary()
	require.NoError(t, err)
	_, err = server.Write(b)
	require.NoError(t, err)

	ok, err := client.Poll(time.Second)
	require.Error(t, err)
	require.False(t, ok)
}

func TestPollNoOutstandingRequest(t *testing.T) {
	client, server := newSocketPair(t)
	defer server.Close()

	ok, err := client.Poll(time.Second)
	require.NoError(t, err)
	require.False(t, ok)
}

// readManagementRequest reads a raw management request off conn and decodes
// it, so a test-side server can inspect what the client sent before replying.
func readManagementRequest(conn net.Conn) (*protocol.Management, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeManagementMsg(buf[:n])
}
