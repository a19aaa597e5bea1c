package netcodec

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// maxPayloadLen guards against a corrupted length prefix allocating an
// absurd buffer. No SCTP packet comes close to this.
const maxPayloadLen = 1 << 24

var ErrPayloadTooLarge = errors.New("payload length exceeds limit")

// NetLVCodec writes each payload behind a 4-byte length prefix.
type NetLVCodec struct {
	w     io.WriteCloser
	r     io.ReadCloser
	order binary.ByteOrder
	mu    sync.Mutex
}

func NewNetLVCodec(w io.WriteCloser, r io.ReadCloser, order binary.ByteOrder) Codec {
	return &NetLVCodec{
		w:     w,
		r:     r,
		order: order,
	}
}

func (c *NetLVCodec) WritePayload(payload []byte) error {
	length := uint32(len(payload))
	if length == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := binary.Write(c.w, c.order, length); err != nil {
		return err
	}
	_, err := c.w.Write(payload)
	return err
}

func (c *NetLVCodec) ReadPayload() (payload []byte, err error) {
	var payloadLen uint32
	if err = binary.Read(c.r, c.order, &payloadLen); err != nil {
		return
	}
	if payloadLen > maxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	payload = make([]byte, payloadLen)
	_, err = io.ReadFull(c.r, payload)
	return
}

func (c *NetLVCodec) Close() (err error) {
	err1 := c.w.Close()
	err2 := c.r.Close()

	if err1 != nil {
		return err1
	}
	return err2
}
