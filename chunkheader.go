package sctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
chunkHeader represents the layout shared by all chunks:

	 0                   1                   2                   3
	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Chunk Type  | Chunk  Flags  |        Chunk Length           |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                          Chunk Value                          |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type chunkHeader struct {
	typ   chunkType
	flags byte
	raw   []byte
}

const chunkHeaderSize = 4

var (
	ErrChunkHeaderTooSmall       = errors.New("raw is smaller than the minimum length for a chunk header")
	ErrChunkHeaderNotEnoughSpace = errors.New("not enough data left in chunk to satisfy declared length")
	ErrChunkHeaderPaddingNonZero = errors.New("chunk padding is non-zero at offset")
)

func (c *chunkHeader) unmarshal(raw []byte) error {
	if len(raw) < chunkHeaderSize {
		return fmt.Errorf("%w: raw only %d bytes, %d is the minimum length", ErrChunkHeaderTooSmall, len(raw), chunkHeaderSize)
	}

	c.typ = chunkType(raw[0])
	c.flags = raw[1]
	length := binary.BigEndian.Uint16(raw[2:])

	// The length field does not count padding. When fewer than 4 bytes follow
	// the value in the raw buffer, they are taken as padding and must be zero.
	if int(length) < chunkHeaderSize {
		return fmt.Errorf("%w: %d < %d", ErrChunkHeaderTooSmall, length, chunkHeaderSize)
	}

	valueLength := int(length) - chunkHeaderSize
	lengthAfterValue := len(raw) - (chunkHeaderSize + valueLength)
	if lengthAfterValue < 0 {
		return fmt.Errorf("%w: %d bytes missing", ErrChunkHeaderNotEnoughSpace, -lengthAfterValue)
	} else if lengthAfterValue < 4 {
		for i := lengthAfterValue; i > 0; i-- {
			paddingOffset := chunkHeaderSize + valueLength + (i - 1)
			if raw[paddingOffset] != 0 {
				return fmt.Errorf("%w: %d", ErrChunkHeaderPaddingNonZero, paddingOffset)
			}
		}
	}

	c.raw = raw[chunkHeaderSize : chunkHeaderSize+valueLength]
	return nil
}

func (c *chunkHeader) marshal() ([]byte, error) {
	raw := make([]byte, 4+len(c.raw))

	raw[0] = uint8(c.typ)
	raw[1] = c.flags
	binary.BigEndian.PutUint16(raw[2:], uint16(len(c.raw)+chunkHeaderSize))
	copy(raw[4:], c.raw)
	return raw, nil
}

func (c *chunkHeader) valueLength() int {
	return len(c.raw)
}
