package sctp

import (
	"sync"
	"time"

	"github.com/jiyeyuran/sctp-go/netcodec"
)

// StreamTransport adapts a stream-oriented connection into the datagram
// Transport the association expects, using a netcodec.Codec to preserve
// packet boundaries. A dedicated goroutine pumps inbound payloads so
// Receive can honor its timeout.
type StreamTransport struct {
	codec     netcodec.Codec
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	readErr   error
	mu        sync.Mutex
}

// NewStreamTransport wraps the codec and starts the inbound pump.
func NewStreamTransport(codec netcodec.Codec) *StreamTransport {
	t := &StreamTransport{
		codec:   codec,
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}

	go func() {
		for {
			payload, err := t.codec.ReadPayload()
			if err != nil {
				t.mu.Lock()
				t.readErr = err
				t.mu.Unlock()
				t.closeOnce.Do(func() { close(t.closed) })
				return
			}
			select {
			case t.inbound <- payload:
			case <-t.closed:
				return
			}
		}
	}()

	return t
}

func (t *StreamTransport) Receive(buf []byte, timeout time.Duration) (int, error) {
	select {
	case payload := <-t.inbound:
		return copy(buf, payload), nil
	case <-t.closed:
		t.mu.Lock()
		err := t.readErr
		t.mu.Unlock()
		if err == nil {
			err = ErrTransportClosed
		}
		return 0, err
	case <-time.After(timeout):
		return 0, nil
	}
}

func (t *StreamTransport) Send(buf []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	return t.codec.WritePayload(buf)
}

func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return t.codec.Close()
}
