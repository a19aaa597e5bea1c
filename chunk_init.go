package sctp

import (
	"errors"
	"fmt"
)

// chunkInit begins the four-way handshake (RFC 4960 section 3.3.2). It must
// arrive alone in its packet with a zero verification tag.
type chunkInit struct {
	chunkHeader
	chunkInitCommon
}

var (
	ErrChunkTypeNotTypeInit      = errors.New("ChunkType is not of type INIT")
	ErrChunkValueNotLongEnough   = errors.New("chunk value not long enough")
	ErrChunkTypeInitFlagZero     = errors.New("ChunkType of type INIT flags must be all 0")
	ErrChunkTypeInitUnmarshalFailed = errors.New("failed to unmarshal INIT body")
	ErrChunkTypeInitMarshalFailed   = errors.New("failed marshaling INIT common data")
	ErrChunkTypeInitInitiateTagZero = errors.New("ChunkType of type INIT ACK InitiateTag must not be 0")
	ErrInitInboundStreamRequestZero = errors.New("INIT ACK inbound stream request must be > 0")
	ErrInitOutboundStreamRequestZero = errors.New("INIT ACK outbound stream request must be > 0")
	ErrInitAdvertisedReceiver1500    = errors.New("INIT ACK Advertised Receiver Window Credit (a_rwnd) must be >= 1500")
)

func (i *chunkInit) unmarshal(raw []byte) error {
	if err := i.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if i.typ != ctInit {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotTypeInit, i.typ.String())
	} else if len(i.chunkHeader.raw) < initChunkMinLength {
		return fmt.Errorf("%w: %d", ErrChunkValueNotLongEnough, len(i.chunkHeader.raw))
	}

	// The Chunk Flags field in INIT is reserved, and all bits in it should
	// be set to 0 by the sender and ignored by the receiver.
	if i.flags != 0 {
		return ErrChunkTypeInitFlagZero
	}

	if err := i.chunkInitCommon.unmarshal(i.chunkHeader.raw); err != nil {
		return fmt.Errorf("%w: %v", ErrChunkTypeInitUnmarshalFailed, err)
	}

	return nil
}

func (i *chunkInit) marshal() ([]byte, error) {
	initShared, err := i.chunkInitCommon.marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkTypeInitMarshalFailed, err)
	}

	i.chunkHeader.typ = ctInit
	i.chunkHeader.raw = initShared
	return i.chunkHeader.marshal()
}

func (i *chunkInit) check() (abort bool, err error) {
	// The receiver of the INIT (the responding end) records the value of
	// the Initiate Tag parameter. This value MUST be placed into the
	// Verification Tag field of every SCTP packet that the receiver of
	// the INIT transmits within this association. The value 0 is reserved.
	if i.initiateTag == 0 {
		return true, ErrChunkTypeInitInitiateTagZero
	}

	// An SCTP receiver MUST be able to receive a minimum of 1500 bytes in
	// one SCTP packet, so a_rwnd must not be smaller than that.
	if i.advertisedReceiverWindowCredit < 1500 {
		return true, ErrInitAdvertisedReceiver1500
	}

	// A receiver of an INIT with the MIS value of 0 SHOULD abort the
	// association. Same for OS.
	if i.numInboundStreams == 0 {
		return true, ErrInitInboundStreamRequestZero
	}
	if i.numOutboundStreams == 0 {
		return true, ErrInitOutboundStreamRequestZero
	}

	return false, nil
}

func (i *chunkInit) String() string {
	return fmt.Sprintf("%s: %s", i.chunkHeader.typ, i.chunkInitCommon.String())
}
