package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// reconfigResult is the outcome a responder reports for a reconfiguration
// request (RFC 6525 section 4.4).
type reconfigResult uint32

const (
	reconfigResultSuccessNOP              reconfigResult = 0
	reconfigResultSuccessPerformed        reconfigResult = 1
	reconfigResultDenied                  reconfigResult = 2
	reconfigResultErrorWrongSSN           reconfigResult = 3
	reconfigResultErrorRequestAlreadyInProgress reconfigResult = 4
	reconfigResultErrorBadSequenceNumber  reconfigResult = 5
	reconfigResultInProgress              reconfigResult = 6
)

func (t reconfigResult) String() string {
	switch t {
	case reconfigResultSuccessNOP:
		return "0: Success - Nothing to do"
	case reconfigResultSuccessPerformed:
		return "1: Success - Performed"
	case reconfigResultDenied:
		return "2: Denied"
	case reconfigResultErrorWrongSSN:
		return "3: Error - Wrong SSN"
	case reconfigResultErrorRequestAlreadyInProgress:
		return "4: Error - Request already in progress"
	case reconfigResultErrorBadSequenceNumber:
		return "5: Error - Bad Sequence Number"
	case reconfigResultInProgress:
		return "6: In progress"
	default:
		return fmt.Sprintf("Unknown reconfig result: %d", uint32(t))
	}
}

type paramReconfigResponse struct {
	paramHeader
	reconfigResponseSequenceNumber uint32
	result                         reconfigResult
}

const paramReconfigResponseLength = 8

var ErrReconfigRespParamTooShort = errors.New("reconfig response parameter too short")

func (r *paramReconfigResponse) marshal() ([]byte, error) {
	r.typ = ptReconfigResp
	r.raw = make([]byte, paramReconfigResponseLength)
	binary.BigEndian.PutUint32(r.raw, r.reconfigResponseSequenceNumber)
	binary.BigEndian.PutUint32(r.raw[4:], uint32(r.result))

	return r.paramHeader.marshal()
}

func (r *paramReconfigResponse) unmarshal(raw []byte) (param, error) {
	if err := r.paramHeader.unmarshal(raw); err != nil {
		return nil, err
	}
	if len(r.raw) < paramReconfigResponseLength {
		return nil, ErrReconfigRespParamTooShort
	}
	r.reconfigResponseSequenceNumber = binary.BigEndian.Uint32(r.raw)
	r.result = reconfigResult(binary.BigEndian.Uint32(r.raw[4:]))

	return r, nil
}
