package sctp

import (
	"fmt"

	"github.com/pion/randutil"
)

// paramStateCookie is the opaque cookie the server hands out in INIT-ACK
// and expects back verbatim in COOKIE-ECHO.
type paramStateCookie struct {
	paramHeader
	cookie []byte
}

func newRandomStateCookie() (*paramStateCookie, error) {
	randCookie, err := randutil.GenerateCryptoRandomString(cookieSize, runesAlpha)
	if err != nil {
		return nil, err
	}

	s := &paramStateCookie{
		cookie: []byte(randCookie),
	}
	return s, nil
}

func (s *paramStateCookie) marshal() ([]byte, error) {
	s.typ = ptStateCookie
	s.raw = s.cookie
	return s.paramHeader.marshal()
}

func (s *paramStateCookie) unmarshal(raw []byte) (param, error) {
	if err := s.paramHeader.unmarshal(raw); err != nil {
		return nil, err
	}
	s.cookie = s.raw
	return s, nil
}

func (s *paramStateCookie) String() string {
	return fmt.Sprintf("%s: %s", s.typ, s.cookie)
}
