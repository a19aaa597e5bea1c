package sctp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dumbTransport never delivers inbound data; sent packets are recorded.
type dumbTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newDumbTransport() *dumbTransport {
	return &dumbTransport{closed: make(chan struct{})}
}

func (t *dumbTransport) Receive(buf []byte, timeout time.Duration) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrTransportClosed
	case <-time.After(timeout):
		return 0, nil
	}
}

func (t *dumbTransport) Send(buf []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	t.mu.Lock()
	t.sent = append(t.sent, cp)
	t.mu.Unlock()
	return nil
}

func (t *dumbTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// pipeTransport is one end of an in-memory datagram pipe.
type pipeTransport struct {
	read      chan []byte
	write     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func pipeTransportPair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 512)
	ba := make(chan []byte, 512)
	a := &pipeTransport{read: ba, write: ab, closed: make(chan struct{})}
	b := &pipeTransport{read: ab, write: ba, closed: make(chan struct{})}
	return a, b
}

func (t *pipeTransport) Receive(buf []byte, timeout time.Duration) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrTransportClosed
	case p := <-t.read:
		return copy(buf, p), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (t *pipeTransport) Send(buf []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case t.write <- cp:
	default:
		// peer is gone or swamped; a datagram transport may drop
	}
	return nil
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

type dcepEvent struct {
	stream *Stream
	label  string
}

// testListener funnels listener callbacks into channels and wires a data
// collector onto every announced stream.
type testListener struct {
	associated    chan struct{}
	disassociated chan struct{}
	rawStream     chan *Stream
	dcepStream    chan dcepEvent
	streamData    chan []byte
	streamClosed  chan uint16
	nAssociated   int32
	mu            sync.Mutex
}

func newTestListener() *testListener {
	return &testListener{
		associated:    make(chan struct{}, 8),
		disassociated: make(chan struct{}, 8),
		rawStream:     make(chan *Stream, 8),
		dcepStream:    make(chan dcepEvent, 8),
		streamData:    make(chan []byte, 64),
		streamClosed:  make(chan uint16, 8),
	}
}

func (l *testListener) attach(s *Stream) {
	s.On("data", func(payload []byte, ppid PayloadProtocolIdentifier) {
		l.streamData <- payload
	})
	s.On("close", func() {
		l.streamClosed <- s.StreamIdentifier()
	})
}

func (l *testListener) OnAssociated(a *Association) {
	l.mu.Lock()
	l.nAssociated++
	l.mu.Unlock()
	l.associated <- struct{}{}
}

func (l *testListener) OnDisassociated(a *Association) {
	l.disassociated <- struct{}{}
}

func (l *testListener) OnRawStream(s *Stream) {
	l.attach(s)
	l.rawStream <- s
}

func (l *testListener) OnDCEPStream(s *Stream, label string, ppid PayloadProtocolIdentifier) {
	l.attach(s)
	l.dcepStream <- dcepEvent{stream: s, label: label}
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func createDumbAssociation(t *testing.T, listener AssociationListener) *Association {
	t.Helper()
	a, err := createAssociation(newDumbTransport(), listener, Options{Name: "test"})
	require.NoError(t, err)
	return a
}

// addInflight registers a chunk as transmitted once, the way the gather
// loop would have.
func addInflight(a *Association, tsn uint32, size int) *chunkPayloadData {
	c := makeDataChunk(tsn, make([]byte, size))
	c.nSent = 1
	c.since = time.Now()
	c.setAllInflight()
	a.inflightQueue.pushNoCheck(c)
	return c
}

func parsePackets(t *testing.T, rawPackets [][]byte) []*packet {
	t.Helper()
	var packets []*packet
	for _, raw := range rawPackets {
		p := &packet{}
		require.NoError(t, p.unmarshal(raw))
		packets = append(packets, p)
	}
	return packets
}

func TestAssociationHandleSackAdvance(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.cumulativeTSNAckPoint = 9
	a.myNextTSN = 12
	a.minTSN2MeasureRTT = 10
	addInflight(a, 10, 100)
	addInflight(a, 11, 200)

	err := a.handleSack(&chunkSelectiveAck{
		cumulativeTSNAck:               11,
		advertisedReceiverWindowCredit: 64 * 1024,
	})
	a.lock.Unlock()
	require.NoError(t, err)

	a.lock.Lock()
	defer a.lock.Unlock()
	assert.Equal(t, uint32(11), a.cumulativeTSNAckPoint)
	assert.Equal(t, 0, a.inflightQueue.size())
	assert.Equal(t, uint32(64*1024), a.rwnd)
	assert.False(t, a.t3RTX.isRunning())
	// Karn's gate advanced to the next unsent TSN
	assert.Equal(t, a.myNextTSN, a.minTSN2MeasureRTT)
}

func TestAssociationHandleSackOldIsDropped(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	defer a.lock.Unlock()
	a.cumulativeTSNAckPoint = 20
	addInflight(a, 21, 10)

	require.NoError(t, a.handleSack(&chunkSelectiveAck{
		cumulativeTSNAck:               19,
		advertisedReceiverWindowCredit: 1024,
	}))
	assert.Equal(t, uint32(20), a.cumulativeTSNAckPoint)
	assert.Equal(t, 1, a.inflightQueue.size())
}

func TestAssociationFastRetransmit(t *testing.T) {
	// Send TSNs 10..14; the peer repeatedly SACKs cumAck=10 with gap-ack
	// blocks [12,12] and [14,14]. The third such report must trigger fast
	// retransmission of 11 and 13 bundled into a single packet.
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.cumulativeTSNAckPoint = 9
	a.myNextTSN = 15
	a.minTSN2MeasureRTT = 15
	a.cwnd = 10000
	for tsn := uint32(10); tsn <= 14; tsn++ {
		addInflight(a, tsn, 10)
	}
	a.lock.Unlock()

	origCwnd := uint32(10000)
	for i := 0; i < 3; i++ {
		a.lock.Lock()
		err := a.handleSack(&chunkSelectiveAck{
			cumulativeTSNAck:               10,
			advertisedReceiverWindowCredit: 64 * 1024,
			gapAckBlocks:                   []gapAckBlock{{start: 2, end: 2}, {start: 4, end: 4}},
		})
		a.lock.Unlock()
		require.NoError(t, err)
	}

	a.lock.Lock()
	c11, ok := a.inflightQueue.get(11)
	require.True(t, ok)
	assert.Equal(t, uint32(3), c11.missIndicator)
	assert.True(t, a.inFastRecovery)
	assert.Equal(t, uint32(14), a.fastRecoverExitPoint)
	assert.Equal(t, max32(origCwnd/2, 4*a.mtu), a.ssthresh)
	assert.Equal(t, a.ssthresh, a.cwnd)
	assert.True(t, a.willRetransmitFast)
	a.lock.Unlock()

	packets := parsePackets(t, a.gatherOutbound())
	var fastRetrans *packet
	for _, p := range packets {
		if _, ok := p.chunks[0].(*chunkPayloadData); ok {
			fastRetrans = p
		}
	}
	require.NotNil(t, fastRetrans, "expected a fast-retransmission packet")

	var tsns []uint32
	for _, c := range fastRetrans.chunks {
		d, ok := c.(*chunkPayloadData)
		require.True(t, ok)
		tsns = append(tsns, d.tsn)
	}
	assert.Equal(t, []uint32{11, 13}, tsns, "lost chunks bundled in one packet")

	a.lock.Lock()
	defer a.lock.Unlock()
	c11, _ = a.inflightQueue.get(11)
	assert.Equal(t, uint32(2), c11.nSent)
	assert.False(t, a.willRetransmitFast)
}

func TestAssociationT3RtxTimeout(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.cumulativeTSNAckPoint = 19
	a.myNextTSN = 21
	origCwnd := a.cwnd
	c := addInflight(a, 20, 100)
	a.lock.Unlock()

	a.onRetransmissionTimeout(timerT3RTX, 1)

	a.lock.Lock()
	assert.Equal(t, a.mtu, a.cwnd)
	assert.Equal(t, max32(origCwnd/2, 4*a.mtu), a.ssthresh)
	assert.True(t, c.retransmit)
	a.lock.Unlock()

	packets := parsePackets(t, a.gatherOutbound())
	require.Len(t, packets, 1)
	d, ok := packets[0].chunks[0].(*chunkPayloadData)
	require.True(t, ok)
	assert.Equal(t, uint32(20), d.tsn)

	a.lock.Lock()
	defer a.lock.Unlock()
	assert.False(t, c.retransmit)
	assert.Equal(t, uint32(2), c.nSent)
}

func TestAssociationPartialReliabilityRexmit(t *testing.T) {
	// A stream with reliabilityType Rexmit and value 2 gives up on a chunk
	// at its second transmission; FORWARD-TSN then advances past it.
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.useForwardTSN = true
	s := a.createStream(1)
	s.reliabilityType = ReliabilityTypeRexmit
	s.reliabilityValue = 2

	a.pendingQueue.push(&chunkPayloadData{
		streamIdentifier:  1,
		userData:          []byte("please do try"),
		beginningFragment: true,
		endingFragment:    true,
	})

	chunks, _ := a.popPendingDataChunksToSend()
	require.Len(t, chunks, 1)
	c := chunks[0]
	tsn := c.tsn
	assert.Equal(t, uint32(1), c.nSent)
	assert.False(t, c.isAbandoned())

	c.retransmit = true
	a.getDataPacketsToRetransmit()
	assert.Equal(t, uint32(2), c.nSent)
	assert.True(t, c.isAbandoned())
	a.lock.Unlock()

	a.onRetransmissionTimeout(timerT3RTX, 1)

	a.lock.Lock()
	assert.Equal(t, tsn, a.advancedPeerTSNAckPoint)
	assert.True(t, a.willSendForwardTSN)
	a.lock.Unlock()

	packets := parsePackets(t, a.gatherOutbound())
	var fwdtsn *chunkForwardTSN
	for _, p := range packets {
		for _, c := range p.chunks {
			if f, ok := c.(*chunkForwardTSN); ok {
				fwdtsn = f
			}
		}
	}
	require.NotNil(t, fwdtsn, "expected a FORWARD-TSN packet")
	assert.Equal(t, tsn, fwdtsn.newCumulativeTSN)
	require.Len(t, fwdtsn.streams, 1)
	assert.Equal(t, uint16(1), fwdtsn.streams[0].identifier)
}

func TestAssociationCookieEchoIdempotence(t *testing.T) {
	listener := newTestListener()
	a := createDumbAssociation(t, listener)

	a.lock.Lock()
	cookie, err := a.cookies.issue()
	a.lock.Unlock()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		a.lock.Lock()
		packets := a.handleCookieEcho(&chunkCookieEcho{cookie: cookie.cookie})
		a.lock.Unlock()
		a.flushDeferred()

		require.Len(t, packets, 1)
		_, ok := packets[0].chunks[0].(*chunkCookieAck)
		assert.True(t, ok, "each valid COOKIE-ECHO is answered with COOKIE-ACK")
		assert.Equal(t, established, a.getState())
	}

	waitSignal(t, listener.associated, "OnAssociated")
	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, int32(1), listener.nAssociated, "no duplicate OnAssociated on replay")

	a.lock.Lock()
	defer a.lock.Unlock()
	assert.Equal(t, 1, a.cookies.size(), "a single cookie survives establishment")
}

func TestAssociationStaleCookieEcho(t *testing.T) {
	a := createDumbAssociation(t, nil)

	a.lock.Lock()
	cookie, err := a.cookies.issue()
	require.NoError(t, err)
	a.cookies.cookies[0].createdAt = time.Now().Add(-validCookieLife - time.Second)

	packets := a.handleCookieEcho(&chunkCookieEcho{cookie: cookie.cookie})
	a.lock.Unlock()

	require.Len(t, packets, 1)
	errChunk, ok := packets[0].chunks[0].(*chunkError)
	require.True(t, ok)
	require.Len(t, errChunk.errorCauses, 1)
	cause, ok := errChunk.errorCauses[0].(*errorCauseStaleCookieError)
	require.True(t, ok)
	assert.Greater(t, cause.measureOfStaleness, uint32(0))
	assert.Equal(t, closed, a.getState(), "stale cookie leaves the association unchanged")
}

func TestAssociationAtMostOneSackPerBatch(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.peerLastTSN = 29
	a.lock.Unlock()

	out := &packet{
		sourcePort:      5000,
		destinationPort: 5000,
		verificationTag: a.myVerificationTag,
		chunks: []chunk{
			&chunkPayloadData{
				tsn: 30, streamIdentifier: 0, payloadType: PayloadTypeWebRTCBinary,
				beginningFragment: true, endingFragment: true, userData: []byte("AB"),
			},
			&chunkPayloadData{
				tsn: 31, streamIdentifier: 0, payloadType: PayloadTypeWebRTCBinary,
				beginningFragment: true, endingFragment: true, userData: []byte("CD"),
			},
		},
	}
	raw, err := out.marshal()
	require.NoError(t, err)
	require.NoError(t, a.handleInbound(raw))

	a.lock.Lock()
	assert.Equal(t, uint32(31), a.peerLastTSN)
	assert.Equal(t, ackStateDelay, a.ackState, "in-order batch only schedules a delayed ack")
	a.lock.Unlock()

	assert.Empty(t, a.gatherOutbound(), "no SACK while the ack is delayed")

	a.onAckTimeout()

	packets := parsePackets(t, a.gatherOutbound())
	nSacks := 0
	var sack *chunkSelectiveAck
	for _, p := range packets {
		for _, c := range p.chunks {
			if s, ok := c.(*chunkSelectiveAck); ok {
				nSacks++
				sack = s
			}
		}
	}
	require.Equal(t, 1, nSacks, "at most one SACK per batch")
	assert.Equal(t, uint32(31), sack.cumulativeTSNAck)
	assert.Empty(t, sack.gapAckBlocks)
}

func TestAssociationGapTriggersImmediateSack(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	a.peerLastTSN = 29
	a.lock.Unlock()

	out := &packet{
		sourcePort:      5000,
		destinationPort: 5000,
		verificationTag: a.myVerificationTag,
		chunks: []chunk{&chunkPayloadData{
			tsn: 32, streamIdentifier: 0, payloadType: PayloadTypeWebRTCBinary,
			beginningFragment: true, endingFragment: true, userData: []byte("EF"),
		}},
	}
	raw, err := out.marshal()
	require.NoError(t, err)
	require.NoError(t, a.handleInbound(raw))

	a.lock.Lock()
	assert.Equal(t, uint32(29), a.peerLastTSN, "gap does not advance the cumulative TSN")
	assert.Equal(t, ackStateImmediate, a.ackState)
	a.lock.Unlock()

	packets := parsePackets(t, a.gatherOutbound())
	var sack *chunkSelectiveAck
	for _, p := range packets {
		for _, c := range p.chunks {
			if s, ok := c.(*chunkSelectiveAck); ok {
				sack = s
			}
		}
	}
	require.NotNil(t, sack)
	assert.Equal(t, uint32(29), sack.cumulativeTSNAck)
	assert.Equal(t, []gapAckBlock{{start: 3, end: 3}}, sack.gapAckBlocks)
}

func TestAssociationZeroWindowProbe(t *testing.T) {
	a := createDumbAssociation(t, nil)
	a.setState(established)

	a.lock.Lock()
	defer a.lock.Unlock()

	a.rwnd = 0
	a.pendingQueue.push(&chunkPayloadData{
		streamIdentifier:  0,
		userData:          []byte("probe"),
		beginningFragment: true,
		endingFragment:    true,
	})

	chunks, _ := a.popPendingDataChunksToSend()
	require.Len(t, chunks, 1, "one chunk may fly despite rwnd=0")

	// With data already in flight, a zero window blocks everything.
	a.pendingQueue.push(&chunkPayloadData{
		streamIdentifier:  0,
		userData:          []byte("blocked"),
		beginningFragment: true,
		endingFragment:    true,
	})
	chunks, _ = a.popPendingDataChunksToSend()
	assert.Empty(t, chunks)
}

func establishPair(t *testing.T) (*Association, *Association, *testListener, *testListener) {
	t.Helper()

	ta, tb := pipeTransportPair()
	serverListener := newTestListener()
	clientListener := newTestListener()

	server, err := NewAssociation(ta, serverListener, Options{Name: "server"})
	require.NoError(t, err)
	client, err := NewAssociation(tb, clientListener, Options{Name: "client"})
	require.NoError(t, err)

	require.NoError(t, client.Associate())

	waitSignal(t, clientListener.associated, "client OnAssociated")
	waitSignal(t, serverListener.associated, "server OnAssociated")

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return server, client, serverListener, clientListener
}

func TestAssociationEstablishment(t *testing.T) {
	server, client, _, _ := establishPair(t)

	assert.Equal(t, established, server.getState())
	assert.Equal(t, established, client.getState())
	assert.True(t, client.IsClient())
	assert.False(t, server.IsClient())

	client.lock.Lock()
	clientNextTSN := client.myNextTSN
	clientPeerLastTSN := client.peerLastTSN
	client.lock.Unlock()

	server.lock.Lock()
	serverNextTSN := server.myNextTSN
	serverPeerLastTSN := server.peerLastTSN
	server.lock.Unlock()

	// Nothing has been sent yet, so each side's cumulative point is the
	// peer's initial TSN minus one.
	assert.Equal(t, clientNextTSN-1, serverPeerLastTSN)
	assert.Equal(t, serverNextTSN-1, clientPeerLastTSN)
}

func TestAssociationInitCollision(t *testing.T) {
	ta, tb := pipeTransportPair()
	aListener := newTestListener()
	bListener := newTestListener()

	a, err := NewAssociation(ta, aListener, Options{Name: "a"})
	require.NoError(t, err)
	b, err := NewAssociation(tb, bListener, Options{Name: "b"})
	require.NoError(t, err)

	// Both sides associate simultaneously.
	require.NoError(t, a.Associate())
	require.NoError(t, b.Associate())

	waitSignal(t, aListener.associated, "a OnAssociated")
	waitSignal(t, bListener.associated, "b OnAssociated")

	assert.Equal(t, established, a.getState())
	assert.Equal(t, established, b.getState())

	_ = a.Close()
	_ = b.Close()
}

func TestAssociationDataExchange(t *testing.T) {
	_, client, serverListener, _ := establishPair(t)

	s, err := client.OpenStream("", PayloadTypeWebRTCBinary)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), s.StreamIdentifier(), "client streams are even, starting at 0")

	n, err := s.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case remote := <-serverListener.rawStream:
		assert.Equal(t, uint16(0), remote.StreamIdentifier())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnRawStream")
	}

	select {
	case payload := <-serverListener.streamData:
		assert.Equal(t, []byte("ping"), payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream data")
	}
}

func TestAssociationDCEPStream(t *testing.T) {
	_, client, serverListener, _ := establishPair(t)

	s, err := client.OpenStream("", PayloadTypeWebRTCString)
	require.NoError(t, err)

	open := &dcepOpen{
		channelType:          dcepChannelTypePartialReliableRexmit,
		reliabilityParameter: 2,
		label:                []byte("chat"),
	}
	raw, err := open.marshal()
	require.NoError(t, err)
	_, err = s.WriteSCTP(raw, PayloadTypeWebRTCDCEP)
	require.NoError(t, err)

	var remote *Stream
	select {
	case ev := <-serverListener.dcepStream:
		assert.Equal(t, "chat", ev.label)
		remote = ev.stream
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDCEPStream")
	}

	assert.Equal(t, "chat", remote.Label())
	remote.lock.RLock()
	assert.Equal(t, ReliabilityTypeRexmit, remote.reliabilityType)
	assert.Equal(t, uint32(2), remote.reliabilityValue)
	remote.lock.RUnlock()

	// User data after the DCEP open flows normally.
	_, err = s.WriteSCTP([]byte("hello"), PayloadTypeWebRTCString)
	require.NoError(t, err)
	select {
	case payload := <-serverListener.streamData:
		assert.Equal(t, []byte("hello"), payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream data")
	}
}

func TestAssociationStreamReset(t *testing.T) {
	server, client, serverListener, _ := establishPair(t)

	s, err := client.OpenStream("", PayloadTypeWebRTCBinary)
	require.NoError(t, err)
	_, err = s.Write([]byte("data"))
	require.NoError(t, err)

	select {
	case <-serverListener.rawStream:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnRawStream")
	}

	require.NoError(t, s.Close())

	select {
	case sid := <-serverListener.streamClosed:
		assert.Equal(t, uint16(0), sid)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}

	// Both registries drop the stream once the reconfig handshake is done.
	assert.Eventually(t, func() bool {
		server.lock.Lock()
		nServer := len(server.streams)
		server.lock.Unlock()
		client.lock.Lock()
		nClient := len(client.streams)
		client.lock.Unlock()
		return nServer == 0 && nClient == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAssociationAbort(t *testing.T) {
	ta, tb := pipeTransportPair()
	serverListener := newTestListener()
	clientListener := newTestListener()

	server, err := NewAssociation(ta, serverListener, Options{Name: "server"})
	require.NoError(t, err)
	client, err := NewAssociation(tb, clientListener, Options{Name: "client"})
	require.NoError(t, err)

	require.NoError(t, client.Associate())
	waitSignal(t, clientListener.associated, "client OnAssociated")
	waitSignal(t, serverListener.associated, "server OnAssociated")

	client.Abort("no longer needed")

	waitSignal(t, clientListener.disassociated, "client OnDisassociated")
	waitSignal(t, serverListener.disassociated, "server OnDisassociated")

	assert.Equal(t, closed, client.getState())
	assert.Equal(t, closed, server.getState())

	_ = server.Close()
}

func TestAssociationCloseNotifiesOnce(t *testing.T) {
	ta, _ := pipeTransportPair()
	listener := newTestListener()

	a, err := NewAssociation(ta, listener, Options{Name: "lonely"})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "Close is idempotent")

	waitSignal(t, listener.disassociated, "OnDisassociated")
	select {
	case <-listener.disassociated:
		t.Fatal("OnDisassociated fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}
