package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// paramType identifies an optional/variable-length TLV inside a chunk.
type paramType uint16

const (
	ptStateCookie         paramType = 7
	ptOutSSNResetReq      paramType = 13
	ptReconfigResp        paramType = 16
	ptForwardTSNSupp      paramType = 49152
	ptSupportedExt        paramType = 32776
)

func (p paramType) String() string {
	switch p {
	case ptStateCookie:
		return "StateCookie"
	case ptOutSSNResetReq:
		return "OutgoingSSNResetRequestParameter"
	case ptReconfigResp:
		return "ReconfigurationResponseParameter"
	case ptForwardTSNSupp:
		return "ForwardTSNSupported"
	case ptSupportedExt:
		return "SupportedExtensions"
	default:
		return fmt.Sprintf("Unknown ParamType: %d", uint16(p))
	}
}

type param interface {
	marshal() ([]byte, error)
	length() int
}

var ErrParamTypeUnhandled = errors.New("unhandled ParamType")

// buildParam delegates to the appropriate parameter codec by type.
func buildParam(t paramType, rawParam []byte) (param, error) {
	switch t {
	case ptStateCookie:
		return (&paramStateCookie{}).unmarshal(rawParam)
	case ptOutSSNResetReq:
		return (&paramOutgoingResetRequest{}).unmarshal(rawParam)
	case ptReconfigResp:
		return (&paramReconfigResponse{}).unmarshal(rawParam)
	case ptForwardTSNSupp:
		return (&paramForwardTSNSupported{}).unmarshal(rawParam)
	case ptSupportedExt:
		return (&paramSupportedExtensions{}).unmarshal(rawParam)
	default:
		return nil, fmt.Errorf("%w: %v", ErrParamTypeUnhandled, t)
	}
}

/*
paramHeader carries the layout shared by all parameters:

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|          Parameter Type       |       Parameter Length        |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                       Parameter Value                         |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type paramHeader struct {
	typ paramType
	len int
	raw []byte
}

const paramHeaderLength = 4

var (
	ErrParamHeaderTooShort      = errors.New("param header too short")
	ErrParamHeaderSelfReported  = errors.New("param self reported length is shorter than header length")
	ErrParamHeaderTooLong       = errors.New("param self reported length is longer than the data")
)

func (p *paramHeader) marshal() ([]byte, error) {
	paramLengthPlusHeader := paramHeaderLength + len(p.raw)

	rawParam := make([]byte, paramLengthPlusHeader)
	binary.BigEndian.PutUint16(rawParam[0:], uint16(p.typ))
	binary.BigEndian.PutUint16(rawParam[2:], uint16(paramLengthPlusHeader))
	copy(rawParam[paramHeaderLength:], p.raw)

	return rawParam, nil
}

func (p *paramHeader) unmarshal(raw []byte) error {
	if len(raw) < paramHeaderLength {
		return ErrParamHeaderTooShort
	}

	paramLengthPlusHeader := binary.BigEndian.Uint16(raw[2:])
	if int(paramLengthPlusHeader) < paramHeaderLength {
		return fmt.Errorf("%w: param self reported length (%d) shorter than header length (%d)", ErrParamHeaderSelfReported, int(paramLengthPlusHeader), paramHeaderLength)
	}
	if len(raw) < int(paramLengthPlusHeader) {
		return fmt.Errorf("%w: param length (%d) shorter than self reported (%d)", ErrParamHeaderTooLong, len(raw), int(paramLengthPlusHeader))
	}

	p.typ = paramType(binary.BigEndian.Uint16(raw[0:]))
	p.raw = raw[paramHeaderLength:paramLengthPlusHeader]
	p.len = int(paramLengthPlusHeader)

	return nil
}

func (p *paramHeader) length() int {
	return p.len
}
