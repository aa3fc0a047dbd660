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

package protocol

// MgmtClient talks to a (presumably local) PTP daemon using Management packets.
// Two shapes are offered: Communicate is a blocking request/response round trip
// for tools that can afford to wait; NewRequest/Poll is a non-blocking, single
// outstanding request state machine for control loops that cannot block.

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
)

// MgmtClient talks to ptp server over unix socket
type MgmtClient struct {
	Connection io.ReadWriter
	Sequence   uint16
}

// SendPacket sends packet, incrementing sequence counter. Packets carrying a
// polymorphic TLV (Management, Signaling, Announce and friends) implement
// encoding.BinaryMarshaler; everything else is a fixed-size struct binary.Write
// can handle directly.
func (c *MgmtClient) SendPacket(packet Packet) error {
	c.Sequence++
	packet.SetSequence(c.Sequence)
	if bm, ok := packet.(encoding.BinaryMarshaler); ok {
		b, err := bm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshaling packet: %w", err)
		}
		_, err = c.Connection.Write(b)
		return err
	}
	return binary.Write(c.Connection, binary.BigEndian, packet)
}

// Communicate sends the management packet, parses response into something usable
func (c *MgmtClient) Communicate(packet *Management) (*Management, error) {
	if err := c.SendPacket(packet); err != nil {
		return nil, err
	}
	response := make([]uint8, 1024)
	n, err := c.Connection.Read(response)
	if err != nil {
		return nil, err
	}
	return DecodeManagementMsg(response[:n])
}

// DecodeManagementMsg decodes a raw management message read off the wire
// together with its first TLV; a MANAGEMENT_ERROR_STATUS response is
// surfaced as an error. It does not check the action field, and bytes
// after the first TLV are not examined.
func DecodeManagementMsg(raw []byte) (*Management, error) {
	p, err := decodeManagement(raw)
	if err != nil {
		return nil, err
	}
	if errorPacket, ok := p.(*ManagementMsgErrorStatus); ok {
		return nil, fmt.Errorf("got management error in response: %v", errorPacket.ManagementErrorStatusTLV.ManagementErrorID)
	}
	m, ok := p.(*Management)
	if !ok {
		return nil, fmt.Errorf("got unexpected packet type %T", p)
	}
	return m, nil
}

// ParentDataSet sends PARENT_DATA_SET request and returns response
func (c *MgmtClient) ParentDataSet() (*ParentDataSetTLV, error) {
	res, err := c.Communicate(ParentDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := res.TLV.(*ParentDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", res.TLV, tlv)
	}
	return tlv, nil
}

// DefaultDataSet sends DEFAULT_DATA_SET request and returns response
func (c *MgmtClient) DefaultDataSet() (*DefaultDataSetTLV, error) {
	res, err := c.Communicate(DefaultDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := res.TLV.(*DefaultDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", res.TLV, tlv)
	}
	return tlv, nil
}

// CurrentDataSet sends CURRENT_DATA_SET request and returns response
func (c *MgmtClient) CurrentDataSet() (*CurrentDataSetTLV, error) {
	res, err := c.Communicate(CurrentDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := res.TLV.(*CurrentDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", res.TLV, tlv)
	}
	return tlv, nil
}

// PortDataSet sends PORT_DATA_SET request and returns response
func (c *MgmtClient) PortDataSet() (*PortDataSetTLV, error) {
	res, err := c.Communicate(PortDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := res.TLV.(*PortDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", res.TLV, tlv)
	}
	return tlv, nil
}

// TimePropertiesDataSet sends TIME_PROPERTIES_DATA_SET request and returns response
func (c *MgmtClient) TimePropertiesDataSet() (*TimePropertiesDataSetTLV, error) {
	res, err := c.Communicate(TimePropertiesDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := res.TLV.(*TimePropertiesDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", res.TLV, tlv)
	}
	return tlv, nil
}
