package sctp

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiyeyuran/sctp-go/netcodec"
)

func newStreamTransportPair() (*StreamTransport, *StreamTransport) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := NewStreamTransport(netcodec.NewNetLVCodec(aw, ar, binary.BigEndian))
	b := NewStreamTransport(netcodec.NewNetLVCodec(bw, br, binary.BigEndian))
	return a, b
}

func TestStreamTransport(t *testing.T) {
	t.Run("send and receive preserve packet boundaries", func(t *testing.T) {
		a, b := newStreamTransportPair()
		defer a.Close() // nolint:errcheck
		defer b.Close() // nolint:errcheck

		require.NoError(t, a.Send([]byte("first")))
		require.NoError(t, a.Send([]byte("second!")))

		buf := make([]byte, 64)
		n, err := b.Receive(buf, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "first", string(buf[:n]))

		n, err = b.Receive(buf, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "second!", string(buf[:n]))
	})

	t.Run("receive times out with no data", func(t *testing.T) {
		a, b := newStreamTransportPair()
		defer a.Close() // nolint:errcheck
		defer b.Close() // nolint:errcheck

		buf := make([]byte, 16)
		start := time.Now()
		n, err := b.Receive(buf, 20*time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("close fails pending receives", func(t *testing.T) {
		a, b := newStreamTransportPair()
		_ = a.Close()

		buf := make([]byte, 16)
		assert.Error(t, a.Send([]byte("nope")))
		_, err := b.Receive(buf, time.Second)
		assert.Error(t, err, "peer pipe closed ends the read side")
	})
}

func TestAssociationOverStreamTransport(t *testing.T) {
	ta, tb := newStreamTransportPair()
	serverListener := newTestListener()
	clientListener := newTestListener()

	server, err := NewAssociation(ta, serverListener, Options{Name: "stream-server"})
	require.NoError(t, err)
	client, err := NewAssociation(tb, clientListener, Options{Name: "stream-client"})
	require.NoError(t, err)

	require.NoError(t, client.Associate())
	waitSignal(t, clientListener.associated, "client OnAssociated")
	waitSignal(t, serverListener.associated, "server OnAssociated")

	s, err := client.OpenStream("", PayloadTypeWebRTCBinary)
	require.NoError(t, err)
	_, err = s.Write([]byte("over a byte stream"))
	require.NoError(t, err)

	select {
	case payload := <-serverListener.streamData:
		assert.Equal(t, []byte("over a byte stream"), payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream data")
	}

	_ = client.Close()
	_ = server.Close()
}
