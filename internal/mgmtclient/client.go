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

// Package mgmtclient is a non-blocking request/response state machine
// over the PTP management protocol, talking to a local PTP daemon
// (linuxptp's ptp4l) over a unix stream socket.
package mgmtclient

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/teragrep-clocksync/phc2sys/ptp/protocol"
)

// Kind identifies which management query is outstanding
type Kind int

// Supported management queries
const (
	KindNone Kind = iota
	KindPortDataSet
	KindTimePropertiesDataSet
)

// DefaultSocketPath is where the management channel is expected, per spec.
const DefaultSocketPath = "/var/run/phc2sys"

// Client is a single-outstanding-request, non-blocking management client.
// At most one request is in flight; Poll must be called to drive it to
// completion. A timed-out request stays outstanding, and the Request*
// methods send nothing, until ClearOutstanding is called.
type Client struct {
	conn syscall.Conn
	rw   net.Conn
	mc   protocol.MgmtClient

	outstanding Kind

	lastPortDataSet       *protocol.PortDataSetTLV
	lastTimePropertiesSet *protocol.TimePropertiesDataSetTLV
}

// Dial connects to the management socket at path
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing management socket %q: %w", path, err)
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("management connection to %q does not expose a raw fd", path)
	}
	return &Client{
		conn: sc,
		rw:   conn,
		mc:   protocol.MgmtClient{Connection: conn},
	}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error { return c.rw.Close() }

// Outstanding reports which request, if any, has been sent but not yet answered
func (c *Client) Outstanding() Kind { return c.outstanding }

// RequestPortDataSet sends a PORT_DATA_SET request if none is outstanding
func (c *Client) RequestPortDataSet() error {
	if c.outstanding != KindNone {
		return nil
	}
	if err := c.mc.SendPacket(protocol.PortDataSetRequest()); err != nil {
		return fmt.Errorf("sending PORT_DATA_SET request: %w", err)
	}
	c.outstanding = KindPortDataSet
	return nil
}

// RequestTimePropertiesDataSet sends a TIME_PROPERTIES_DATA_SET request if none is outstanding
func (c *Client) RequestTimePropertiesDataSet() error {
	if c.outstanding != KindNone {
		return nil
	}
	if err := c.mc.SendPacket(protocol.TimePropertiesDataSetRequest()); err != nil {
		return fmt.Errorf("sending TIME_PROPERTIES_DATA_SET request: %w", err)
	}
	c.outstanding = KindTimePropertiesDataSet
	return nil
}

// fd returns the underlying file descriptor for polling
func (c *Client) fd() (uintptr, error) {
	var fd uintptr
	rc, err := c.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}

// Poll waits up to timeout for the outstanding request to complete. It
// returns true if a response was read and matched the outstanding kind;
// on timeout (false, nil) is returned and the caller may clear the
// outstanding flag itself and re-request on the next tick. A response
// is accepted only if its action is RESPONSE and its first MANAGEMENT
// TLV is of the expected ManagementID; bytes after that TLV are not
// examined.
func (c *Client) Poll(timeout time.Duration) (bool, error) {
	if c.outstanding == KindNone {
		return false, nil
	}
	fd, err := c.fd()
	if err != nil {
		return false, fmt.Errorf("getting management socket fd: %w", err)
	}

	pfd := unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI}
	for {
		n, err := unix.Poll([]unix.PollFd{pfd}, int(timeout.Milliseconds()))
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("polling management socket: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		break
	}

	buf := make([]byte, 1024)
	n, err := c.rw.Read(buf)
	if err != nil {
		return false, fmt.Errorf("reading management response: %w", err)
	}

	return c.handleResponse(buf[:n])
}

func (c *Client) handleResponse(raw []byte) (bool, error) {
	m, err := protocol.DecodeManagementMsg(raw)
	if err != nil {
		return false, fmt.Errorf("decoding management response: %w", err)
	}
	if m.Action() != protocol.RESPONSE {
		return false, fmt.Errorf("expected management action RESPONSE, got %d", m.Action())
	}

	switch c.outstanding {
	case KindPortDataSet:
		tlv, ok := m.TLV.(*protocol.PortDataSetTLV)
		if !ok {
			return false, fmt.Errorf("expected PORT_DATA_SET TLV, got %T", m.TLV)
		}
		c.lastPortDataSet = tlv
	case KindTimePropertiesDataSet:
		tlv, ok := m.TLV.(*protocol.TimePropertiesDataSetTLV)
		if !ok {
			return false, fmt.Errorf("expected TIME_PROPERTIES_DATA_SET TLV, got %T", m.TLV)
		}
		c.lastTimePropertiesSet = tlv
	default:
		return false, fmt.Errorf("response received with no outstanding request")
	}

	c.outstanding = KindNone
	return true, nil
}

// ClearOutstanding drops the outstanding-request flag after a timeout, so
// the next tick re-sends
func (c *Client) ClearOutstanding() { c.outstanding = KindNone }

// LastPortDataSet returns the most recently completed PORT_DATA_SET response
func (c *Client) LastPortDataSet() *protocol.PortDataSetTLV { return c.lastPortDataSet }

// LastTimePropertiesDataSet returns the most recently completed TIME_PROPERTIES_DATA_SET response
func (c *Client) LastTimePropertiesDataSet() *protocol.TimePropertiesDataSetTLV {
	return c.lastTimePropertiesSet
}
