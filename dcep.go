package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Data Channel Establishment Protocol messages (RFC 8832). Only the two
// message types exist; OPEN carries the channel configuration, ACK closes
// the loop. DCEP messages always travel ordered and reliable on the stream
// they configure.

type dcepMessageType uint8

const (
	dcepTypeAck  dcepMessageType = 0x02
	dcepTypeOpen dcepMessageType = 0x03
)

// dcepChannelType low bits select the reliability variant; the high bit
// requests unordered delivery.
const (
	dcepChannelTypeReliable              byte = 0x00
	dcepChannelTypeReliableUnordered     byte = 0x80
	dcepChannelTypePartialReliableRexmit byte = 0x01
	dcepChannelTypePartialReliableRexmitUnordered byte = 0x81
	dcepChannelTypePartialReliableTimed  byte = 0x02
	dcepChannelTypePartialReliableTimedUnordered  byte = 0x82
)

/*
dcepOpen is the DATA_CHANNEL_OPEN message:

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|  Message Type |  Channel Type |            Priority           |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                    Reliability Parameter                      |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|         Label Length          |       Protocol Length         |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	\                             Label                             /
	\                            Protocol                           /
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type dcepOpen struct {
	channelType          byte
	priority             uint16
	reliabilityParameter uint32
	label                []byte
	protocol             []byte
}

const dcepOpenHeaderLength = 12

var (
	ErrDCEPDataTooShort    = errors.New("DCEP message too short")
	ErrDCEPInvalidLength   = errors.New("DCEP message length mismatch")
	ErrDCEPUnknownMessage  = errors.New("unknown DCEP message type")
)

func (d *dcepOpen) unmarshal(raw []byte) error {
	if len(raw) < dcepOpenHeaderLength {
		return ErrDCEPDataTooShort
	}
	if dcepMessageType(raw[0]) != dcepTypeOpen {
		return fmt.Errorf("%w: %d", ErrDCEPUnknownMessage, raw[0])
	}
	d.channelType = raw[1]
	d.priority = binary.BigEndian.Uint16(raw[2:])
	d.reliabilityParameter = binary.BigEndian.Uint32(raw[4:])
	labelLength := int(binary.BigEndian.Uint16(raw[8:]))
	protocolLength := int(binary.BigEndian.Uint16(raw[10:]))

	if len(raw) != dcepOpenHeaderLength+labelLength+protocolLength {
		return ErrDCEPInvalidLength
	}
	d.label = raw[dcepOpenHeaderLength : dcepOpenHeaderLength+labelLength]
	d.protocol = raw[dcepOpenHeaderLength+labelLength:]

	return nil
}

func (d *dcepOpen) marshal() ([]byte, error) {
	raw := make([]byte, dcepOpenHeaderLength+len(d.label)+len(d.protocol))
	raw[0] = uint8(dcepTypeOpen)
	raw[1] = d.channelType
	binary.BigEndian.PutUint16(raw[2:], d.priority)
	binary.BigEndian.PutUint32(raw[4:], d.reliabilityParameter)
	binary.BigEndian.PutUint16(raw[8:], uint16(len(d.label)))
	binary.BigEndian.PutUint16(raw[10:], uint16(len(d.protocol)))
	copy(raw[dcepOpenHeaderLength:], d.label)
	copy(raw[dcepOpenHeaderLength+len(d.label):], d.protocol)
	return raw, nil
}

// reliability maps the channel type onto the stream's reliability variant.
func (d *dcepOpen) reliability() (unordered bool, relType byte, relVal uint32) {
	unordered = d.channelType&0x80 != 0
	relType = d.channelType & 0x7f
	relVal = d.reliabilityParameter
	return unordered, relType, relVal
}

type dcepAck struct{}

func (*dcepAck) unmarshal(raw []byte) error {
	if len(raw) < 1 {
		return ErrDCEPDataTooShort
	}
	if dcepMessageType(raw[0]) != dcepTypeAck {
		return fmt.Errorf("%w: %d", ErrDCEPUnknownMessage, raw[0])
	}
	return nil
}

func (*dcepAck) marshal() ([]byte, error) {
	return []byte{uint8(dcepTypeAck)}, nil
}
