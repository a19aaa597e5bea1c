package sctp

import (
	"errors"
	"fmt"
)

// chunkAbort tears the association down immediately, optionally carrying
// error causes (RFC 4960 section 3.3.7).
type chunkAbort struct {
	chunkHeader
	errorCauses []errorCause
}

var ErrChunkTypeNotAbort = errors.New("ChunkType is not of type ABORT")

func (a *chunkAbort) unmarshal(raw []byte) error {
	if err := a.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if a.typ != ctAbort {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotAbort, a.typ.String())
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

func (a *chunkAbort) marshal() ([]byte, error) {
	a.chunkHeader.typ = ctAbort
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

func (a *chunkAbort) check() (abort bool, err error) {
	return false, nil
}

func (a *chunkAbort) String() string {
	res := a.chunkHeader.typ.String()
	for _, cause := range a.errorCauses {
		res += fmt.Sprintf("\n - %s", cause)
	}
	return res
}
