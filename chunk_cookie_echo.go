package sctp

import (
	"errors"
	"fmt"
)

// chunkCookieEcho returns the state cookie received in INIT-ACK
// (RFC 4960 section 3.3.11).
type chunkCookieEcho struct {
	chunkHeader
	cookie []byte
}

var ErrChunkTypeNotCookieEcho = errors.New("ChunkType is not of type COOKIE-ECHO")

func (c *chunkCookieEcho) unmarshal(raw []byte) error {
	if err := c.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if c.typ != ctCookieEcho {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotCookieEcho, c.typ.String())
	}
	c.cookie = c.chunkHeader.raw

	return nil
}

func (c *chunkCookieEcho) marshal() ([]byte, error) {
	c.chunkHeader.typ = ctCookieEcho
	c.chunkHeader.raw = c.cookie
	return c.chunkHeader.marshal()
}

func (c *chunkCookieEcho) check() (abort bool, err error) {
	return false, nil
}
