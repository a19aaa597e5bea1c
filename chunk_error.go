package sctp

import (
	"errors"
	"fmt"
)

// chunkError reports recoverable conditions to the peer without closing
// the association (RFC 4960 section 3.3.10).
type chunkError struct {
	chunkHeader
	errorCauses []errorCause
}

var ErrChunkTypeNotCtError = errors.New("ChunkType is not of type ctError")

func (a *chunkError) unmarshal(raw []byte) error {
	if err := a.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if a.typ != ctError {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotCtError, a.typ.String())
	}

	offset := chunkHeaderSize
	for {
		if len(raw)-offset < 4 {
			break
		}

		e, err := buildErrorCause(raw[offset:])
		if err != nil {
			return err
		}

		offset += int(e.length()) + getPadding(int(e.length()))
		a.errorCauses = append(a.errorCauses, e)
	}
	return nil
}

func (a *chunkError) marshal() ([]byte, error) {
	a.chunkHeader.typ = ctError
	a.flags = 0x00
	a.raw = []byte{}
	for _, ec := range a.errorCauses {
		raw, err := ec.marshal()
		if err != nil {
			return nil, err
		}
		a.raw = append(a.raw, raw...)
		a.raw = padByte(a.raw, getPadding(len(a.raw)))
	}
	return a.chunkHeader.marshal()
}

func (a *chunkError) check() (abort bool, err error) {
	return false, nil
}

func (a *chunkError) String() string {
	res := a.chunkHeader.typ.String()
	for _, cause := range a.errorCauses {
		res += fmt.Sprintf("\n - %s", cause)
	}
	return res
}
