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

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/teragrep-clocksync/phc2sys/hostendian"
)

// base struct sizes
const (
	managementHeaderSize uint16 = 54
	managementTLVBase    uint16 = 2
)

var identity PortIdentity

func init() {
	identity.PortNumber = uint16(os.Getpid())
}

// Action indicates the action to be taken on receipt of the PTP message, Table 57
type Action uint8

// actions as in Table 57 Values of the actionField
const (
	GET Action = iota
	SET
	RESPONSE
	COMMAND
	ACKNOWLEDGE
)

// ManagementID is type for Management IDs
type ManagementID uint16

// Management IDs we support, Table 59 managementId values
const (
	IDNullPTPManagement     ManagementID = 0x0000
	IDClockDescription      ManagementID = 0x0001
	IDDefaultDataSet        ManagementID = 0x2000
	IDCurrentDataSet        ManagementID = 0x2001
	IDParentDataSet         ManagementID = 0x2002
	IDTimePropertiesDataSet ManagementID = 0x2003
	IDPortDataSet           ManagementID = 0x2004
	// rest of Management IDs that we don't implement yet
)

// ManagementErrorID is an enum for possible management errors, Table 109
type ManagementErrorID uint16

// ManagementErrorID enumeration values
const (
	ErrorResponseTooBig ManagementErrorID = 0x0001
	ErrorNoSuchID       ManagementErrorID = 0x0002
	ErrorWrongLength    ManagementErrorID = 0x0003
	ErrorWrongValue     ManagementErrorID = 0x0004
	ErrorNotSetable     ManagementErrorID = 0x0005
	ErrorNotSupported   ManagementErrorID = 0x0006
	ErrorUnpopulated    ManagementErrorID = 0x0007
	ErrorGeneralError   ManagementErrorID = 0xFFFE
)

// ManagementErrorIDToString is a map from ManagementErrorID to string
var ManagementErrorIDToString = map[ManagementErrorID]string{
	ErrorResponseTooBig: "RESPONSE_TOO_BIG",
	ErrorNoSuchID:       "NO_SUCH_ID",
	ErrorWrongLength:    "WRONG_LENGTH",
	ErrorWrongValue:     "WRONG_VALUE",
	ErrorNotSetable:     "NOT_SETABLE",
	ErrorNotSupported:   "NOT_SUPPORTED",
	ErrorUnpopulated:    "UNPOPULATED",
	ErrorGeneralError:   "GENERAL_ERROR",
}

func (t ManagementErrorID) String() string {
	if s := ManagementErrorIDToString[t]; s != "" {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR_ID=%d", uint16(t))
}

func (t ManagementErrorID) Error() string { return t.String() }

// ManagementMsgHead Table 56 - Management message fields
type ManagementMsgHead struct {
	Header

	TargetPortIdentity   PortIdentity
	StartingBoundaryHops uint8
	BoundaryHops         uint8
	ActionField          Action
	Reserved             uint8
}

// Action returns ActionField
func (p *ManagementMsgHead) Action() Action { return p.ActionField }

// ManagementTLVHead Table 58 - Management TLV fields
type ManagementTLVHead struct {
	TLVHead

	ManagementID ManagementID
}

// MgmtID returns ManagementID
func (p *ManagementTLVHead) MgmtID() ManagementID { return p.ManagementID }

// Management is a generic management message: a common head plus one polymorphic TLV.
// decodeManagement fills TLV with a concrete *XxxDataSetTLV picked by ManagementID.
type Management struct {
	ManagementMsgHead
	TLV TLV
}

// MgmtID returns the management ID of the embedded TLV, or IDNullPTPManagement if nil.
func (m *Management) MgmtID() ManagementID {
	if h, ok := m.TLV.(interface{ MgmtID() ManagementID }); ok {
		return h.MgmtID()
	}
	return IDNullPTPManagement
}

// MarshalBinary converts a Management packet to wire bytes.
func (m *Management) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, m.ManagementMsgHead); err != nil {
		return nil, fmt.Errorf("writing Management head: %w", err)
	}
	if bm, ok := m.TLV.(encoding.BinaryMarshaler); ok {
		b, err := bm.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("writing Management TLV: %w", err)
		}
		buf.Write(b)
		return buf.Bytes(), nil
	}
	if err := binary.Write(&buf, binary.BigEndian, m.TLV); err != nil {
		return nil, fmt.Errorf("writing Management TLV: %w", err)
	}
	return buf.Bytes(), nil
}

// ManagementErrorStatusTLV Table 108 MANAGEMENT_ERROR_STATUS TLV format
type ManagementErrorStatusTLV struct {
	TLVHead

	ManagementErrorID ManagementErrorID
	ManagementID      ManagementID
	Reserved          int32
	DisplayData       PTPText
}

// ManagementMsgErrorStatus is head + ManagementErrorStatusTLV
type ManagementMsgErrorStatus struct {
	ManagementMsgHead
	ManagementErrorStatusTLV
}

func buildRequest(id ManagementID, dataSize uint16) *Management {
	return &Management{
		ManagementMsgHead: ManagementMsgHead{
			Header: Header{
				SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageManagement, 0),
				Version:            Version,
				MessageLength:      managementHeaderSize + managementTLVBase + dataSize,
				SourcePortIdentity: identity,
				LogMessageInterval: MgmtLogMessageInterval,
			},
			TargetPortIdentity:   DefaultTargetPortIdentity,
			StartingBoundaryHops: 0,
			BoundaryHops:         0,
			ActionField:          GET,
		},
		TLV: &ManagementTLVHead{
			TLVHead: TLVHead{
				TLVType:     TLVManagement,
				LengthField: managementTLVBase + dataSize,
			},
			ManagementID: id,
		},
	}
}

// defaultDataSetData is the DEFAULT_DATA_SET payload, Table 69
type defaultDataSetData struct {
	SoTSC         uint8
	Reserved0     uint8
	NumberPorts   uint16
	Priority1     uint8
	ClockQuality  ClockQuality
	Priority2     uint8
	ClockIdentity ClockIdentity
	DomainNumber  uint8
	Reserved1     uint8
}

// DefaultDataSetTLV is head + DEFAULT_DATA_SET payload
type DefaultDataSetTLV struct {
	ManagementTLVHead
	defaultDataSetData
}

// DefaultDataSetRequest prepares request packet for DEFAULT_DATA_SET
func DefaultDataSetRequest() *Management {
	return buildRequest(IDDefaultDataSet, uint16(binary.Size(defaultDataSetData{})))
}

// currentDataSetData is the CURRENT_DATA_SET payload, Table 84
type currentDataSetData struct {
	StepsRemoved     uint16
	OffsetFromMaster TimeInterval
	MeanPathDelay    TimeInterval
}

// CurrentDataSetTLV is head + CURRENT_DATA_SET payload
type CurrentDataSetTLV struct {
	ManagementTLVHead
	currentDataSetData
}

// CurrentDataSetRequest prepares request packet for CURRENT_DATA_SET
func CurrentDataSetRequest() *Management {
	return buildRequest(IDCurrentDataSet, uint16(binary.Size(currentDataSetData{})))
}

// parentDataSetData is the PARENT_DATA_SET payload, Table 85
type parentDataSetData struct {
	ParentPortIdentity                    PortIdentity
	PS                                    uint8
	Reserved                              uint8
	ObservedParentOffsetScaledLogVariance uint16
	ObservedParentClockPhaseChangeRate    uint32
	GrandmasterPriority1                  uint8
	GrandmasterClockQuality               ClockQuality
	GrandmasterPriority2                  uint8
	GrandmasterIdentity                   ClockIdentity
}

// ParentDataSetTLV is head + PARENT_DATA_SET payload
type ParentDataSetTLV struct {
	ManagementTLVHead
	parentDataSetData
}

// ParentDataSetRequest prepares request packet for PARENT_DATA_SET
func ParentDataSetRequest() *Management {
	return buildRequest(IDParentDataSet, uint16(binary.Size(parentDataSetData{})))
}

// DelayMechanism enumerates the delay measurement mechanism a port runs, Table 27
type DelayMechanism uint8

// delay mechanism values, Table 27
const (
	DelayMechanismE2E       DelayMechanism = 0x01
	DelayMechanismP2P       DelayMechanism = 0x02
	DelayMechanismCommonP2P DelayMechanism = 0x03
	DelayMechanismSpecial   DelayMechanism = 0x04
	DelayMechanismNoMech    DelayMechanism = 0xfe
)

// portDataSetData is the PORT_DATA_SET payload, Table 73. PortState is what the
// startup-wait logic polls: it drives the loop until a local port reaches
// MASTER or SLAVE.
type portDataSetData struct {
	PortIdentity            PortIdentity
	PortState               PortState
	LogMinDelayReqInterval  int8
	PeerMeanPathDelay       TimeInterval
	LogAnnounceInterval     int8
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         int8
	DelayMechanism          DelayMechanism
	LogMinPdelayReqInterval int8
	VersionNumber           uint8
	Reserved                uint8
}

// PortDataSetTLV is head + PORT_DATA_SET payload
type PortDataSetTLV struct {
	ManagementTLVHead
	portDataSetData
}

// PortDataSetRequest prepares request packet for PORT_DATA_SET
func PortDataSetRequest() *Management {
	return buildRequest(IDPortDataSet, uint16(binary.Size(portDataSetData{})))
}

// NewPortDataSetResponse builds a RESPONSE-action PORT_DATA_SET management
// packet carrying the given port state. Used by a management-protocol peer
// (e.g. a test double standing in for a PTP daemon) to answer a GET.
func NewPortDataSetResponse(state PortState) *Management {
	dataSize := uint16(binary.Size(portDataSetData{}))
	m := buildRequest(IDPortDataSet, dataSize)
	m.ActionField = RESPONSE
	m.TLV = &PortDataSetTLV{
		ManagementTLVHead: ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: managementTLVBase + dataSize},
			ManagementID: IDPortDataSet,
		},
		portDataSetData: portDataSetData{PortState: state},
	}
	return m
}

// timePropertiesDataSetData is the TIME_PROPERTIES_DATA_SET payload, Table 87.
// Flags uses the same bit layout as the low byte of Header.FlagField
// (FlagLeap61, FlagLeap59, FlagCurrentUtcOffsetValid, FlagPTPTimescale, ...).
type timePropertiesDataSetData struct {
	CurrentUTCOffset int16
	Flags            uint8
	TimeSource       TimeSource
}

// TimePropertiesDataSetTLV is head + TIME_PROPERTIES_DATA_SET payload. This is
// what the leap-second coordinator polls periodically.
type TimePropertiesDataSetTLV struct {
	ManagementTLVHead
	timePropertiesDataSetData
}

// NewTimePropertiesDataSetResponse builds a RESPONSE-action
// TIME_PROPERTIES_DATA_SET management packet. Used by a management-protocol
// peer (e.g. a test double standing in for a PTP daemon) to answer a GET.
func NewTimePropertiesDataSetResponse(currentUTCOffset int16, flags uint8) *Management {
	dataSize := uint16(binary.Size(timePropertiesDataSetData{}))
	m := buildRequest(IDTimePropertiesDataSet, dataSize)
	m.ActionField = RESPONSE
	m.TLV = &TimePropertiesDataSetTLV{
		ManagementTLVHead: ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: managementTLVBase + dataSize},
			ManagementID: IDTimePropertiesDataSet,
		},
		timePropertiesDataSetData: timePropertiesDataSetData{CurrentUTCOffset: currentUTCOffset, Flags: flags},
	}
	return m
}

// TimePropertiesDataSetRequest prepares request packet for TIME_PROPERTIES_DATA_SET
func TimePropertiesDataSetRequest() *Management {
	return buildRequest(IDTimePropertiesDataSet, uint16(binary.Size(timePropertiesDataSetData{})))
}

// UnmarshalBinary parses raw bytes into a ManagementMsgErrorStatus
func (p *ManagementMsgErrorStatus) UnmarshalBinary(rawBytes []byte) error {
	reader := bytes.NewReader(rawBytes)
	be := binary.BigEndian
	if err := binary.Read(reader, be, &p.ManagementMsgHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus head: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.TLVHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus TLVHead: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementErrorID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementErrorID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.Reserved); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus Reserved: %w", err)
	}
	if reader.Len() == 0 {
		return nil
	}
	data := make([]byte, reader.Len())
	if _, err := reader.Read(data); err != nil {
		return err
	}
	return p.DisplayData.UnmarshalBinary(data)
}

// decodeManagement decodes a raw Management message into a *Management with TLV
// populated according to the wire ManagementID; returns *ManagementMsgErrorStatus
// if the peer responded with MANAGEMENT_ERROR_STATUS instead.
func decodeManagement(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	be := binary.BigEndian

	head := ManagementMsgHead{}
	if err := binary.Read(r, be, &head); err != nil {
		return nil, fmt.Errorf("reading Management head: %w", err)
	}

	tlvHead := ManagementTLVHead{}
	if err := binary.Read(r, be, &tlvHead.TLVHead); err != nil {
		return nil, fmt.Errorf("reading Management TLVHead: %w", err)
	}
	if tlvHead.TLVHead.TLVType == TLVManagementErrorStatus {
		errPacket := &ManagementMsgErrorStatus{}
		if err := errPacket.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("got management error response but failed to decode it: %w", err)
		}
		return errPacket, nil
	}
	if tlvHead.TLVHead.TLVType != TLVManagement {
		return nil, fmt.Errorf("got TLV type 0x%x instead of 0x%x", tlvHead.TLVHead.TLVType, TLVManagement)
	}
	if err := binary.Read(r, be, &tlvHead.ManagementID); err != nil {
		return nil, fmt.Errorf("reading Management ManagementID: %w", err)
	}

	switch tlvHead.ManagementID {
	case IDDefaultDataSet:
		data := defaultDataSetData{}
		if err := binary.Read(r, be, &data); err != nil {
			return nil, fmt.Errorf("reading DEFAULT_DATA_SET: %w", err)
		}
		return &Management{ManagementMsgHead: head, TLV: &DefaultDataSetTLV{tlvHead, data}}, nil
	case IDCurrentDataSet:
		data := currentDataSetData{}
		if err := binary.Read(r, be, &data); err != nil {
			return nil, fmt.Errorf("reading CURRENT_DATA_SET: %w", err)
		}
		return &Management{ManagementMsgHead: head, TLV: &CurrentDataSetTLV{tlvHead, data}}, nil
	case IDParentDataSet:
		data := parentDataSetData{}
		if err := binary.Read(r, be, &data); err != nil {
			return nil, fmt.Errorf("reading PARENT_DATA_SET: %w", err)
		}
		return &Management{ManagementMsgHead: head, TLV: &ParentDataSetTLV{tlvHead, data}}, nil
	case IDPortDataSet:
		data := portDataSetData{}
		if err := binary.Read(r, be, &data); err != nil {
			return nil, fmt.Errorf("reading PORT_DATA_SET: %w", err)
		}
		return &Management{ManagementMsgHead: head, TLV: &PortDataSetTLV{tlvHead, data}}, nil
	case IDTimePropertiesDataSet:
		data := timePropertiesDataSetData{}
		if err := binary.Read(r, be, &data); err != nil {
			return nil, fmt.Errorf("reading TIME_PROPERTIES_DATA_SET: %w", err)
		}
		return &Management{ManagementMsgHead: head, TLV: &TimePropertiesDataSetTLV{tlvHead, data}}, nil
	case IDPortStatsNP:
		tlv := &PortStatsNPTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, be, &tlv.PortIdentity); err != nil {
			return nil, err
		}
		// ptp4l sends PortStats over the wire in host byte order, unlike everything else.
		if err := binary.Read(r, hostendian.Order, &tlv.PortStats); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDTimeStatusNP:
		tlv := &TimeStatusNPTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, be, &tlv.MasterOffsetNS); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.IngressTimeNS); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.CumulativeScaledRateOffset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.ScaledLastGmPhaseChange); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.GMTimeBaseIndicator); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.LastGmPhaseChange); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.GMPresent); err != nil {
			return nil, err
		}
		if err := binary.Read(r, be, &tlv.GMIdentity); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	default:
		return nil, fmt.Errorf("unsupported management TLV 0x%x", tlvHead.ManagementID)
	}
}
