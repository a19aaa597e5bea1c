package sctp

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Reliability variants for a stream (RFC 3758). The value parameter is the
// retransmission cap for Rexmit and the lifetime in msec for Timed.
const (
	ReliabilityTypeReliable byte = 0
	ReliabilityTypeRexmit   byte = 1
	ReliabilityTypeTimed    byte = 2
)

// Stream events emitted through the embedded EventEmitter:
//
//	"data" (payload []byte, ppid PayloadProtocolIdentifier)
//	"close"
//
// "data" fires in TSN arrival order, once per inbound DATA chunk.
type Stream struct {
	IEventEmitter

	association      *Association
	streamIdentifier uint16
	label            string

	defaultPayloadType PayloadProtocolIdentifier
	reliabilityType    byte
	reliabilityValue   uint32
	unordered          bool

	// Stream Sequence Numbers; out is assigned to the ending fragment of
	// each outbound message, in tracks the greatest delivered inbound SSN.
	sequenceNumberOut uint16
	sequenceNumberIn  uint16

	// announced is set once the association has surfaced the stream
	// through the listener (or it was opened locally). Guarded by the
	// association lock.
	announced bool

	closed bool
	lock   sync.RWMutex
	logger logr.Logger
}

// setLabel records the DCEP-negotiated label.
func (s *Stream) setLabel(label string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.label = label
}

// StreamIdentifier returns the stream id.
func (s *Stream) StreamIdentifier() uint16 {
	return s.streamIdentifier
}

// Label returns the DCEP label, empty for raw streams.
func (s *Stream) Label() string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.label
}

// SetDefaultPayloadType sets the PPID used when writing without an
// explicit one.
func (s *Stream) SetDefaultPayloadType(payloadType PayloadProtocolIdentifier) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if payloadType != PayloadTypeUnknown {
		s.defaultPayloadType = payloadType
	}
}

// SetReliabilityParams configures the delivery guarantees for chunks
// written after the call.
func (s *Stream) SetReliabilityParams(unordered bool, relType byte, relVal uint32) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.logger.V(1).Info("reliability params", "ordered", !unordered, "type", relType, "value", relVal)
	s.unordered = unordered
	s.reliabilityType = relType
	s.reliabilityValue = relVal
}

// Write sends payload with the stream's default PPID.
func (s *Stream) Write(payload []byte) (int, error) {
	s.lock.RLock()
	ppid := s.defaultPayloadType
	s.lock.RUnlock()

	return s.WriteSCTP(payload, ppid)
}

// WriteSCTP fragments payload into DATA chunks and commits them for
// transmission.
func (s *Stream) WriteSCTP(payload []byte, ppid PayloadProtocolIdentifier) (int, error) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return 0, ErrStreamClosed
	}
	chunks, err := s.packetize(payload, ppid)
	s.lock.Unlock()
	if err != nil {
		return 0, err
	}

	if err := s.association.sendPayloadData(chunks); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// The caller should hold the stream lock.
func (s *Stream) packetize(raw []byte, ppid PayloadProtocolIdentifier) ([]*chunkPayloadData, error) {
	if uint32(len(raw)) > s.association.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(raw), s.association.maxMessageSize)
	}

	offset := uint32(0)
	remaining := uint32(len(raw))

	// From draft-ietf-rtcweb-data-protocol-09, section 6:
	//   All Data Channel Establishment Protocol messages MUST be sent using
	//   ordered delivery and reliable transmission.
	unordered := ppid != PayloadTypeWebRTCDCEP && s.unordered

	var chunks []*chunkPayloadData
	maxPayloadSize := s.association.maxPayloadSize
	for remaining != 0 {
		fragmentSize := min32(maxPayloadSize, remaining)

		// Copy the userData so the caller can reuse the buffer.
		userData := make([]byte, fragmentSize)
		copy(userData, raw[offset:offset+fragmentSize])

		chunk := &chunkPayloadData{
			streamIdentifier:     s.streamIdentifier,
			userData:             userData,
			unordered:            unordered,
			beginningFragment:    offset == 0,
			endingFragment:       remaining-fragmentSize == 0,
			immediateSack:        false,
			payloadType:          ppid,
			streamSequenceNumber: s.sequenceNumberOut,
		}

		chunks = append(chunks, chunk)

		remaining -= fragmentSize
		offset += fragmentSize
	}

	// The same SSN is assigned to every fragment of a message; bump it
	// once per message, for ordered messages only.
	if !unordered {
		s.sequenceNumberOut++
	}

	return chunks, nil
}

// handleData delivers one inbound DATA chunk to the stream consumer. The
// association dispatches chunks in TSN arrival order.
func (s *Stream) handleData(pd *chunkPayloadData) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	if !pd.unordered && sna16GT(pd.streamSequenceNumber, s.sequenceNumberIn) {
		s.sequenceNumberIn = pd.streamSequenceNumber
	}
	s.lock.Unlock()

	s.SafeEmit("data", pd.userData, pd.payloadType)
}

// Close queues a stream-reset marker; the stream is unregistered when the
// peer answers the resulting RECONFIG.
func (s *Stream) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	s.logger.V(1).Info("closing stream, sending reset request")
	return s.association.sendResetRequest(s.streamIdentifier)
}

// onInboundStreamReset is called when the peer resets this stream.
func (s *Stream) onInboundStreamReset() {
	s.lock.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.lock.Unlock()

	if !alreadyClosed {
		s.SafeEmit("close")
	}
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream %d (%s)", s.streamIdentifier, s.label)
}
