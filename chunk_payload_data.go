package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PayloadProtocolIdentifier is the value passed opaquely to the application
// in every DATA chunk. The WebRTC DCEP values are predeclared for
// convenience (RFC 8831).
type PayloadProtocolIdentifier uint32

const (
	PayloadTypeUnknown          PayloadProtocolIdentifier = 0
	PayloadTypeWebRTCDCEP       PayloadProtocolIdentifier = 50
	PayloadTypeWebRTCString     PayloadProtocolIdentifier = 51
	PayloadTypeWebRTCBinary     PayloadProtocolIdentifier = 53
	PayloadTypeWebRTCStringEmpty PayloadProtocolIdentifier = 56
	PayloadTypeWebRTCBinaryEmpty PayloadProtocolIdentifier = 57
)

func (p PayloadProtocolIdentifier) String() string {
	switch p {
	case PayloadTypeWebRTCDCEP:
		return "WebRTC DCEP"
	case PayloadTypeWebRTCString:
		return "WebRTC String"
	case PayloadTypeWebRTCBinary:
		return "WebRTC Binary"
	case PayloadTypeWebRTCStringEmpty:
		return "WebRTC String (Empty)"
	case PayloadTypeWebRTCBinaryEmpty:
		return "WebRTC Binary (Empty)"
	default:
		return fmt.Sprintf("Unknown Payload Protocol Identifier: %d", uint32(p))
	}
}

/*
chunkPayloadData is a DATA chunk plus the sender-side bookkeeping attached
to it while it sits in the pending and inflight queues:

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Type = 0    | Reserved|U|B|E|            Length             |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                              TSN                              |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|      Stream Identifier S      |   Stream Sequence Number n    |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                  Payload Protocol Identifier                  |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                 User Data (seq n of Stream S)                 |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type chunkPayloadData struct {
	chunkHeader

	unordered         bool
	beginningFragment bool
	endingFragment    bool
	immediateSack     bool

	tsn                  uint32
	streamIdentifier     uint16
	streamSequenceNumber uint16
	payloadType          PayloadProtocolIdentifier
	userData             []byte

	// Sender-side state, never on the wire.
	acked       bool
	abandoned   bool
	allInflight bool // valid only if endingFragment is true
	retransmit  bool

	missIndicator uint32
	nSent         uint32 // number of transmissions made for this chunk
	since         time.Time
	retryTime     time.Time
}

const (
	payloadDataEndingFragmentBitmask   = 1
	payloadDataBeginingFragmentBitmask = 2
	payloadDataUnorderedBitmask        = 4
	payloadDataImmediateSACK           = 8

	payloadDataHeaderSize = 12
)

var ErrChunkPayloadSmall = errors.New("packet is smaller than the header size")

func (p *chunkPayloadData) unmarshal(raw []byte) error {
	if err := p.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	p.immediateSack = p.flags&payloadDataImmediateSACK != 0
	p.unordered = p.flags&payloadDataUnorderedBitmask != 0
	p.beginningFragment = p.flags&payloadDataBeginingFragmentBitmask != 0
	p.endingFragment = p.flags&payloadDataEndingFragmentBitmask != 0

	if len(p.chunkHeader.raw) < payloadDataHeaderSize {
		return ErrChunkPayloadSmall
	}
	p.tsn = binary.BigEndian.Uint32(p.chunkHeader.raw[0:])
	p.streamIdentifier = binary.BigEndian.Uint16(p.chunkHeader.raw[4:])
	p.streamSequenceNumber = binary.BigEndian.Uint16(p.chunkHeader.raw[6:])
	p.payloadType = PayloadProtocolIdentifier(binary.BigEndian.Uint32(p.chunkHeader.raw[8:]))
	p.userData = p.chunkHeader.raw[payloadDataHeaderSize:]

	return nil
}

func (p *chunkPayloadData) marshal() ([]byte, error) {
	payRaw := make([]byte, payloadDataHeaderSize+len(p.userData))

	binary.BigEndian.PutUint32(payRaw[0:], p.tsn)
	binary.BigEndian.PutUint16(payRaw[4:], p.streamIdentifier)
	binary.BigEndian.PutUint16(payRaw[6:], p.streamSequenceNumber)
	binary.BigEndian.PutUint32(payRaw[8:], uint32(p.payloadType))
	copy(payRaw[payloadDataHeaderSize:], p.userData)

	flags := uint8(0)
	if p.endingFragment {
		flags = 1
	}
	if p.beginningFragment {
		flags |= 1 << 1
	}
	if p.unordered {
		flags |= 1 << 2
	}
	if p.immediateSack {
		flags |= 1 << 3
	}

	p.chunkHeader.flags = flags
	p.chunkHeader.typ = ctPayloadData
	p.chunkHeader.raw = payRaw
	return p.chunkHeader.marshal()
}

func (p *chunkPayloadData) check() (abort bool, err error) {
	return false, nil
}

func (p *chunkPayloadData) String() string {
	return fmt.Sprintf("%s: tsn=%d sid=%d ssn=%d ppi=%s", p.chunkHeader.typ, p.tsn, p.streamIdentifier, p.streamSequenceNumber, p.payloadType)
}

// setAbandoned marks a fragmented message abandoned; the flag is meaningful
// once all fragments of the message are in the inflight queue.
func (p *chunkPayloadData) setAbandoned(abandoned bool) {
	p.abandoned = abandoned
}

func (p *chunkPayloadData) isAbandoned() bool {
	return p.abandoned && p.allInflight
}

// setAllInflight is called when the ending fragment of a message moves to
// the inflight queue.
func (p *chunkPayloadData) setAllInflight() {
	p.allInflight = true
}
