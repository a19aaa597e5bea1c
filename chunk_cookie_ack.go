package sctp

import (
	"errors"
	"fmt"
)

// chunkCookieAck completes the handshake (RFC 4960 section 3.3.12).
type chunkCookieAck struct {
	chunkHeader
}

var ErrChunkTypeNotCookieAck = errors.New("ChunkType is not of type COOKIE-ACK")

func (c *chunkCookieAck) unmarshal(raw []byte) error {
	if err := c.chunkHeader.unmarshal(raw); err != nil {
		return err
	}

	if c.typ != ctCookieAck {
		return fmt.Errorf("%w: actually is %s", ErrChunkTypeNotCookieAck, c.typ.String())
	}

	return nil
}

func (c *chunkCookieAck) marshal() ([]byte, error) {
	c.chunkHeader.typ = ctCookieAck
	return c.chunkHeader.marshal()
}

func (c *chunkCookieAck) check() (abort bool, err error) {
	return false, nil
}

func (c *chunkCookieAck) String() string {
	return c.chunkHeader.typ.String()
}
