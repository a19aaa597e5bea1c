package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errorCause is one cause TLV inside an ABORT or ERROR chunk.
type errorCause interface {
	unmarshal([]byte) error
	marshal() ([]byte, error)
	length() uint16
	errorCauseCode() errorCauseCode

	String() string
}

type errorCauseCode uint16

const (
	invalidStreamIdentifier errorCauseCode = 1
	missingMandatoryParameter errorCauseCode = 2
	staleCookieError          errorCauseCode = 3
	outOfResource             errorCauseCode = 4
	unresolvableAddress       errorCauseCode = 5
	unrecognizedChunkType     errorCauseCode = 6
	invalidMandatoryParameter errorCauseCode = 7
	unrecognizedParameters    errorCauseCode = 8
	noUserData                errorCauseCode = 9
	cookieReceivedWhileShuttingDown errorCauseCode = 10
	restartOfAnAssociationWithNewAddresses errorCauseCode = 11
	userInitiatedAbort                     errorCauseCode = 12
	protocolViolation                      errorCauseCode = 13
)

func (e errorCauseCode) String() string {
	switch e {
	case invalidStreamIdentifier:
		return "Invalid Stream Identifier"
	case missingMandatoryParameter:
		return "Missing Mandatory Parameter"
	case staleCookieError:
		return "Stale Cookie Error"
	case outOfResource:
		return "Out Of Resource"
	case unresolvableAddress:
		return "Unresolvable IP"
	case unrecognizedChunkType:
		return "Unrecognized Chunk Type"
	case invalidMandatoryParameter:
		return "Invalid Mandatory Parameter"
	case unrecognizedParameters:
		return "Unrecognized Parameters"
	case noUserData:
		return "No User Data"
	case cookieReceivedWhileShuttingDown:
		return "Cookie Received While Shutting Down"
	case restartOfAnAssociationWithNewAddresses:
		return "Restart Of An Association With New Addresses"
	case userInitiatedAbort:
		return "User Initiated Abort"
	case protocolViolation:
		return "Protocol Violation"
	default:
		return fmt.Sprintf("Unknown CauseCode: %d", uint16(e))
	}
}

var ErrBuildErrorCaseHandle = errors.New("buildErrorCause does not handle")

// buildErrorCause delegates to the appropriate cause codec by code.
func buildErrorCause(raw []byte) (errorCause, error) {
	var e errorCause

	c := errorCauseCode(binary.BigEndian.Uint16(raw[0:]))
	switch c {
	case staleCookieError:
		e = &errorCauseStaleCookieError{}
	case unrecognizedChunkType:
		e = &errorCauseUnrecognizedChunkType{}
	case protocolViolation:
		e = &errorCauseProtocolViolation{}
	case userInitiatedAbort:
		e = &errorCauseUserInitiatedAbort{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrBuildErrorCaseHandle, c.String())
	}

	if err := e.unmarshal(raw); err != nil {
		return nil, err
	}
	return e, nil
}

/*
errorCauseHeader carries the layout shared by all error causes:

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|          Cause Code           |       Cause Length            |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	/                    Cause-Specific Information                 /
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type errorCauseHeader struct {
	code errorCauseCode
	len  uint16
	raw  []byte
}

const errorCauseHeaderLength = 4

var ErrErrorCauseTooSmall = errors.New("error cause header too small")

func (e *errorCauseHeader) marshal() ([]byte, error) {
	e.len = uint16(len(e.raw)) + errorCauseHeaderLength
	raw := make([]byte, e.len)
	binary.BigEndian.PutUint16(raw[0:], uint16(e.code))
	binary.BigEndian.PutUint16(raw[2:], e.len)
	copy(raw[errorCauseHeaderLength:], e.raw)
	return raw, nil
}

func (e *errorCauseHeader) unmarshal(raw []byte) error {
	if len(raw) < errorCauseHeaderLength {
		return ErrErrorCauseTooSmall
	}
	e.code = errorCauseCode(binary.BigEndian.Uint16(raw[0:]))
	e.len = binary.BigEndian.Uint16(raw[2:])
	if e.len < errorCauseHeaderLength || int(e.len) > len(raw) {
		return ErrErrorCauseTooSmall
	}
	valueLength := e.len - errorCauseHeaderLength
	e.raw = raw[errorCauseHeaderLength : errorCauseHeaderLength+valueLength]
	return nil
}

func (e *errorCauseHeader) length() uint16 {
	return e.len
}

func (e *errorCauseHeader) errorCauseCode() errorCauseCode {
	return e.code
}

func (e *errorCauseHeader) String() string {
	return e.code.String()
}

// errorCauseStaleCookieError reports by how many microseconds the received
// cookie outlived its validity.
type errorCauseStaleCookieError struct {
	errorCauseHeader
	measureOfStaleness uint32
}

const staleCookieErrorLength = 4

func (e *errorCauseStaleCookieError) marshal() ([]byte, error) {
	e.code = staleCookieError
	e.raw = make([]byte, staleCookieErrorLength)
	binary.BigEndian.PutUint32(e.raw, e.measureOfStaleness)
	return e.errorCauseHeader.marshal()
}

func (e *errorCauseStaleCookieError) unmarshal(raw []byte) error {
	if err := e.errorCauseHeader.unmarshal(raw); err != nil {
		return err
	}
	if len(e.raw) < staleCookieErrorLength {
		return ErrErrorCauseTooSmall
	}
	e.measureOfStaleness = binary.BigEndian.Uint32(e.raw)
	return nil
}

func (e *errorCauseStaleCookieError) String() string {
	return fmt.Sprintf("%s (%d usec)", e.code, e.measureOfStaleness)
}

type errorCauseUnrecognizedChunkType struct {
	errorCauseHeader
	unrecognizedChunk []byte
}

func (e *errorCauseUnrecognizedChunkType) marshal() ([]byte, error) {
	e.code = unrecognizedChunkType
	e.raw = e.unrecognizedChunk
	return e.errorCauseHeader.marshal()
}

func (e *errorCauseUnrecognizedChunkType) unmarshal(raw []byte) error {
	if err := e.errorCauseHeader.unmarshal(raw); err != nil {
		return err
	}
	e.unrecognizedChunk = e.raw
	return nil
}

type errorCauseProtocolViolation struct {
	errorCauseHeader
	additionalInformation []byte
}

func (e *errorCauseProtocolViolation) marshal() ([]byte, error) {
	e.code = protocolViolation
	e.raw = e.additionalInformation
	return e.errorCauseHeader.marshal()
}

func (e *errorCauseProtocolViolation) unmarshal(raw []byte) error {
	if err := e.errorCauseHeader.unmarshal(raw); err != nil {
		return err
	}
	e.additionalInformation = e.raw
	return nil
}

type errorCauseUserInitiatedAbort struct {
	errorCauseHeader
	upperLayerAbortReason []byte
}

func (e *errorCauseUserInitiatedAbort) marshal() ([]byte, error) {
	e.code = userInitiatedAbort
	e.raw = e.upperLayerAbortReason
	return e.errorCauseHeader.marshal()
}

func (e *errorCauseUserInitiatedAbort) unmarshal(raw []byte) error {
	if err := e.errorCauseHeader.unmarshal(raw); err != nil {
		return err
	}
	e.upperLayerAbortReason = e.raw
	return nil
}

func (e *errorCauseUserInitiatedAbort) String() string {
	return fmt.Sprintf("%s: %s", e.code, e.upperLayerAbortReason)
}
