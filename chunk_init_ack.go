package sctp

import (
	"errors"
	"fmt"
)

// chunkInitAck answers an INIT, carrying the responder's tag, windows and
// the state cookie the initiator must echo back (RFC 4960 section 3.3.3).
type chunkInitAck struct {
	chunkHeader
	chunkInitCommon
}

var (
	ErrChunkTypeNotTypeInitAck     = errors.New("ChunkType is not of type INIT ACK")
	ErrChunkNotLongEnoughForParams = errors.New("chunk value not long enough for params")
	ErrChunkTypeInitAckFlagZero    = errors.New("ChunkType of type INIT ACK flags must be all 0")
	ErrInitAckUnmarshalFailed      = errors.New("failed to unmarshal INIT body")
	ErrInitCommonDataMarshalFailed = errors.New("failed marshaling INIT common data")
)

func (i *chunkInitAck) unmarshal(raw []byte) error {
	if err := i.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if i.typ != ctInitAck {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotTypeInitAck, i.typ.String())
	} else if len(i.chunkHeader.raw) < initChunkMinLength {
		return fmt.Errorf("%w: %d", ErrChunkNotLongEnoughForParams, len(i.chunkHeader.raw))
	}

	if i.flags != 0 {
		return ErrChunkTypeInitAckFlagZero
	}

	if err := i.chunkInitCommon.unmarshal(i.chunkHeader.raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInitAckUnmarshalFailed, err)
	}

	return nil
}

func (i *chunkInitAck) marshal() ([]byte, error) {
	initShared, err := i.chunkInitCommon.marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitCommonDataMarshalFailed, err)
	}

	i.chunkHeader.typ = ctInitAck
	i.chunkHeader.raw = initShared
	return i.chunkHeader.marshal()
}

func (i *chunkInitAck) check() (abort bool, err error) {
	if i.initiateTag == 0 {
		return true, ErrChunkTypeInitInitiateTagZero
	}

	if i.advertisedReceiverWindowCredit < 1500 {
		return true, ErrInitAdvertisedReceiver1500
	}

	if i.numInboundStreams == 0 {
		return true, ErrInitInboundStreamRequestZero
	}
	if i.numOutboundStreams == 0 {
		return true, ErrInitOutboundStreamRequestZero
	}

	return false, nil
}

func (i *chunkInitAck) String() string {
	return fmt.Sprintf("%s: %s", i.chunkHeader.typ, i.chunkInitCommon.String())
}
