package sctp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	receiveMTU            uint32 = 8192 // MTU for inbound packet (from the transport)
	initialMTU            uint32 = 1228 // initial MTU for outgoing packets (to the transport)
	initialRecvBufSize    uint32 = 1024 * 1024
	commonHeaderSize      uint32 = 12
	dataChunkHeaderSize   uint32 = 16
	defaultMaxMessageSize uint32 = 65536

	defaultSCTPSrcDstPort uint16 = 5000

	// tickInterval paces both the receive timeout and the idle wakeups of
	// the send task.
	tickInterval = 1 * time.Second
)

// association state. Shutdown states are reachable in the data model, but
// only ABORT-driven teardown is implemented.
type associationState uint32

const (
	closed associationState = iota
	cookieWait
	cookieEchoed
	established
	shutdownPending
	shutdownSent
	shutdownReceived
	shutdownAckSent
)

func (a associationState) String() string {
	switch a {
	case closed:
		return "Closed"
	case cookieWait:
		return "CookieWait"
	case cookieEchoed:
		return "CookieEchoed"
	case established:
		return "Established"
	case shutdownPending:
		return "ShutdownPending"
	case shutdownSent:
		return "ShutdownSent"
	case shutdownReceived:
		return "ShutdownReceived"
	case shutdownAckSent:
		return "ShutdownAckSent"
	default:
		return fmt.Sprintf("Invalid association state %d", uint32(a))
	}
}

// ack transmission state.
const (
	ackStateIdle      int = iota // ack timer is off
	ackStateImmediate            // will send ack immediately
	ackStateDelay                // ack timer is on (ack is being delayed)
)

type associationStats struct {
	nPacketsReceived uint64
	nPacketsSent     uint64
	nDATAs           uint64
	nSACKsReceived   uint64
	nSACKsSent       uint64
	nT3Timeouts      uint64
	nAckTimeouts     uint64
	nFastRetrans     uint64
}

func (s *associationStats) incPacketsReceived() { atomic.AddUint64(&s.nPacketsReceived, 1) }
func (s *associationStats) incPacketsSent()     { atomic.AddUint64(&s.nPacketsSent, 1) }
func (s *associationStats) incDATAs()           { atomic.AddUint64(&s.nDATAs, 1) }
func (s *associationStats) incSACKsReceived()   { atomic.AddUint64(&s.nSACKsReceived, 1) }
func (s *associationStats) incSACKsSent()       { atomic.AddUint64(&s.nSACKsSent, 1) }
func (s *associationStats) incT3Timeouts()      { atomic.AddUint64(&s.nT3Timeouts, 1) }
func (s *associationStats) incAckTimeouts()     { atomic.AddUint64(&s.nAckTimeouts, 1) }
func (s *associationStats) incFastRetrans()     { atomic.AddUint64(&s.nFastRetrans, 1) }

// Options collects the tunables of an association. Zero values take the
// defaults below.
type Options struct {
	// Name tags log lines; a random uuid is generated when empty.
	Name string

	// MTU for outbound packets.
	MTU uint32

	// MaxReceiveBufferSize caps queued inbound user bytes.
	MaxReceiveBufferSize uint32

	// MaxMessageSize caps a single outbound user message.
	MaxMessageSize uint32

	SourcePort      uint16
	DestinationPort uint16
}

func defaultOptions() Options {
	return Options{
		MTU:                  initialMTU,
		MaxReceiveBufferSize: initialRecvBufSize,
		MaxMessageSize:       defaultMaxMessageSize,
		SourcePort:           defaultSCTPSrcDstPort,
		DestinationPort:      defaultSCTPSrcDstPort,
	}
}

// Association is a single SCTP association over a datagram transport
// (RFC 4960 section 13.2 lists the per-association state this mirrors).
// All protocol state is guarded by one exclusive lock; the receive task,
// the send task and timer callbacks all funnel through it.
type Association struct {
	bytesReceived uint64
	bytesSent     uint64

	lock sync.Mutex

	transport Transport
	listener  AssociationListener

	peerVerificationTag uint32
	myVerificationTag   uint32
	state               uint32
	isClient            bool
	myNextTSN           uint32
	peerLastTSN         uint32
	minTSN2MeasureRTT   uint32 // for RTT measurement
	willSendForwardTSN  bool
	willRetransmitFast  bool
	willRetransmitReconfig bool

	// Reconfig
	myNextRSN        uint32
	reconfigs        map[uint32]*chunkReconfig
	reconfigRequests map[uint32]*paramOutgoingResetRequest

	sourcePort              uint16
	destinationPort         uint16
	myMaxNumInboundStreams  uint16
	myMaxNumOutboundStreams uint16
	cookies                 *cookieStore
	payloadQueue            *payloadQueue
	inflightQueue           *inflightQueue
	pendingQueue            *pendingQueue
	controlQueue            *controlQueue
	mtu                     uint32
	maxPayloadSize          uint32 // max DATA chunk payload size
	cumulativeTSNAckPoint   uint32
	advancedPeerTSNAckPoint uint32
	useForwardTSN           bool
	supportedExtensions     []chunkType

	// Congestion control parameters
	maxReceiveBufferSize uint32
	maxMessageSize       uint32
	cwnd                 uint32 // my congestion window size
	rwnd                 uint32 // calculated peer's receiver windows size
	ssthresh             uint32 // slow start threshold
	partialBytesAcked    uint32
	inFastRecovery       bool
	fastRecoverExitPoint uint32

	// RTX & Ack timer
	rtoMgr    *rtoManager
	t1Init    *rtxTimer
	t1Cookie  *rtxTimer
	t3RTX     *rtxTimer
	tReconfig *rtxTimer
	ackTimer  *ackTimer

	// Chunks stored for retransmission
	storedInit       *chunkInit
	storedCookieEcho *chunkCookieEcho

	streams        map[uint16]*Stream
	myNextStreamID uint16

	awakeWriteLoopCh   chan struct{}
	closeWriteLoopCh   chan struct{}
	closeWriteLoopOnce sync.Once
	readLoopCloseCh    chan struct{}
	group              *errgroup.Group

	associatedOnce    sync.Once
	disassociatedOnce sync.Once

	ackState int

	// per inbound packet context
	delayedAckTriggered   bool
	immediateAckTriggered bool

	// callbacks queued under the lock, run after it is released
	deferred []func()

	stats *associationStats

	name   string
	logger logr.Logger
}

// NewAssociation creates an association over the transport and starts its
// receive and send tasks. A server side association then waits for the
// peer's INIT; a client calls Associate to start the handshake.
func NewAssociation(transport Transport, listener AssociationListener, opts Options) (*Association, error) {
	a, err := createAssociation(transport, listener, opts)
	if err != nil {
		return nil, err
	}

	a.group.Go(a.readLoop)
	a.group.Go(a.writeLoop)

	return a, nil
}

func createAssociation(transport Transport, listener AssociationListener, opts Options) (*Association, error) {
	config := defaultOptions()
	if err := override(&config, opts); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = uuid.NewString()
	}

	tsn := globalMathRandomGenerator.Uint32()
	a := &Association{
		transport:               transport,
		listener:                listener,
		maxReceiveBufferSize:    config.MaxReceiveBufferSize,
		maxMessageSize:          config.MaxMessageSize,
		myMaxNumOutboundStreams: 65535,
		myMaxNumInboundStreams:  65535,
		payloadQueue:            newPayloadQueue(),
		inflightQueue:           newInflightQueue(),
		pendingQueue:            newPendingQueue(),
		controlQueue:            newControlQueue(),
		cookies:                 newCookieStore(),
		mtu:                     config.MTU,
		maxPayloadSize:          config.MTU - (commonHeaderSize + dataChunkHeaderSize),
		myVerificationTag:       globalMathRandomGenerator.Uint32(),
		myNextTSN:               tsn,
		myNextRSN:               tsn,
		minTSN2MeasureRTT:       tsn,
		state:                   uint32(closed),
		rtoMgr:                  newRTOManager(),
		streams:                 map[uint16]*Stream{},
		myNextStreamID:          1,
		reconfigs:               map[uint32]*chunkReconfig{},
		reconfigRequests:        map[uint32]*paramOutgoingResetRequest{},
		awakeWriteLoopCh:        make(chan struct{}, 1),
		closeWriteLoopCh:        make(chan struct{}),
		readLoopCloseCh:         make(chan struct{}),
		cumulativeTSNAckPoint:   tsn - 1,
		advancedPeerTSNAckPoint: tsn - 1,
		sourcePort:              config.SourcePort,
		destinationPort:         config.DestinationPort,
		stats:                   &associationStats{},
		name:                    config.Name,
		logger:                  newAssociationLogger(config.Name),
	}

	// RFC 4960 Sec 7.2.1
	//  o  The initial cwnd before DATA transmission or after a sufficiently
	//     long idle period MUST be set to min(4*MTU, max (2*MTU, 4380
	//     bytes)).
	a.cwnd = min32(4*a.mtu, max32(2*a.mtu, 4380))
	a.logger.V(2).Info("updated cwnd (INI)", "cwnd", a.cwnd, "ssthresh", a.ssthresh)

	a.t1Init = newRTXTimer(timerT1Init, a, maxInitRetrans)
	a.t1Cookie = newRTXTimer(timerT1Cookie, a, maxInitRetrans)
	a.t3RTX = newRTXTimer(timerT3RTX, a, noMaxRetrans)
	a.tReconfig = newRTXTimer(timerReconfig, a, noMaxRetrans)
	a.ackTimer = newAckTimer(a)

	a.group = new(errgroup.Group)

	return a, nil
}

// Name returns the association's log name.
func (a *Association) Name() string {
	return a.name
}

// IsClient reports whether this side initiated the handshake.
func (a *Association) IsClient() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.isClient
}

// Associate starts the four-way handshake as the initiating side. Stream
// identifiers opened locally become even. The call does not block; the
// outcome arrives through the listener.
func (a *Association) Associate() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if state := a.getState(); state != closed {
		return fmt.Errorf("%w: state=%s", ErrAssociationAlreadyStarted, state)
	}

	a.isClient = true
	a.myNextStreamID = 0

	init := &chunkInit{}
	init.initialTSN = a.myNextTSN
	init.numOutboundStreams = a.myMaxNumOutboundStreams
	init.numInboundStreams = a.myMaxNumInboundStreams
	init.initiateTag = a.myVerificationTag
	init.advertisedReceiverWindowCredit = a.maxReceiveBufferSize
	setSupportedExtensions(&init.chunkInitCommon)
	a.storedInit = init

	a.sendInit()

	// After sending the INIT chunk, "A" starts the T1-init timer and
	// enters the COOKIE-WAIT state.
	a.setState(cookieWait)
	a.t1Init.start(a.rtoMgr.getRTO())

	return nil
}

// caller must hold a.lock.
func (a *Association) sendInit() {
	if a.storedInit == nil {
		return
	}
	a.logger.V(1).Info("sending INIT")

	outbound := &packet{}
	outbound.verificationTag = 0
	outbound.sourcePort = a.sourcePort
	outbound.destinationPort = a.destinationPort
	outbound.chunks = []chunk{a.storedInit}

	a.controlQueue.push(outbound)
	a.awakeWriteLoop()
}

// caller must hold a.lock.
func (a *Association) sendCookieEcho() {
	if a.storedCookieEcho == nil {
		return
	}
	a.logger.V(1).Info("sending COOKIE-ECHO")

	outbound := &packet{}
	outbound.verificationTag = a.peerVerificationTag
	outbound.sourcePort = a.sourcePort
	outbound.destinationPort = a.destinationPort
	outbound.chunks = []chunk{a.storedCookieEcho}

	a.controlQueue.push(outbound)
	a.awakeWriteLoop()
}

// Close gracefully tears the association down: transport closed, timers
// closed, both tasks stopped, the listener notified exactly once.
func (a *Association) Close() error {
	a.logger.V(1).Info("closing association")

	err := a.close()

	// Wait for both loops to end
	<-a.readLoopCloseCh
	_ = a.group.Wait()

	a.logger.V(1).Info("association closed",
		"nDATAs (in)", atomic.LoadUint64(&a.stats.nDATAs),
		"nSACKs (in)", atomic.LoadUint64(&a.stats.nSACKsReceived),
		"nSACKs (out)", atomic.LoadUint64(&a.stats.nSACKsSent),
		"nT3Timeouts", atomic.LoadUint64(&a.stats.nT3Timeouts),
		"nAckTimeouts", atomic.LoadUint64(&a.stats.nAckTimeouts),
		"nFastRetrans", atomic.LoadUint64(&a.stats.nFastRetrans),
	)
	return err
}

func (a *Association) close() error {
	a.setState(closed)

	err := a.transport.Close()

	a.closeAllTimers()
	a.closeWriteLoopOnce.Do(func() { close(a.closeWriteLoopCh) })

	return err
}

// Abort sends an ABORT with a user initiated cause and immediately closes
// the association.
func (a *Association) Abort(reason string) {
	a.logger.V(1).Info("aborting association", "reason", reason)

	a.lock.Lock()
	abort := &chunkAbort{
		errorCauses: []errorCause{&errorCauseUserInitiatedAbort{
			upperLayerAbortReason: []byte(reason),
		}},
	}
	raw, err := a.createPacket([]chunk{abort}).marshal()
	a.lock.Unlock()

	// The ABORT is flushed directly so it reaches the wire before the
	// transport goes away.
	if err == nil {
		if sendErr := a.transport.Send(raw); sendErr != nil {
			a.logger.V(1).Info("failed to send abort", "error", sendErr)
		}
	}

	_ = a.close()
	<-a.readLoopCloseCh
}

func (a *Association) closeAllTimers() {
	a.t1Init.close()
	a.t1Cookie.close()
	a.t3RTX.close()
	a.tReconfig.close()
	a.ackTimer.close()
}

// unexpectedClose handles a transport failure: both tasks stop, the timers
// close, and the listener learns about the termination.
// caller must NOT hold a.lock.
func (a *Association) unexpectedClose(err error) {
	a.logger.V(1).Info("unexpected transport close", "error", err)
	_ = a.close()
}

func (a *Association) readLoop() error {
	var closeErr error

	defer func() {
		// also stops writeLoop and closes the transport, so a lost
		// transport or an inbound ABORT tears everything down.
		_ = a.close()

		a.lock.Lock()
		a.setState(closed)
		for _, s := range a.streams {
			s := s
			delete(a.streams, s.streamIdentifier)
			a.deferEvent(func() { s.onInboundStreamReset() })
		}
		a.lock.Unlock()
		a.flushDeferred()

		a.notifyDisassociated()
		close(a.readLoopCloseCh)

		a.logger.V(1).Info("readLoop exited", "error", closeErr)
	}()

	a.logger.V(1).Info("readLoop entered")
	buffer := make([]byte, receiveMTU)

	for {
		n, err := a.transport.Receive(buffer, tickInterval)
		if err != nil {
			closeErr = err
			break
		}
		if n == 0 {
			// receive timeout tick
			continue
		}

		inbound := make([]byte, n)
		copy(inbound, buffer[:n])
		atomic.AddUint64(&a.bytesReceived, uint64(n))

		if err = a.handleInbound(inbound); err != nil {
			closeErr = err
			break
		}
	}

	return closeErr
}

func (a *Association) writeLoop() error {
	a.logger.V(1).Info("writeLoop entered")
	defer a.logger.V(1).Info("writeLoop exited")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

loop:
	for {
		rawPackets := a.gatherOutbound()

		for _, raw := range rawPackets {
			if err := a.transport.Send(raw); err != nil {
				if !errors.Is(err, ErrTransportClosed) {
					a.logger.V(1).Info("failed to write packets on transport", "error", err)
				}
				break loop
			}
			atomic.AddUint64(&a.bytesSent, uint64(len(raw)))
			a.stats.incPacketsSent()
		}

		select {
		case <-ticker.C:
		case <-a.awakeWriteLoopCh:
		case <-a.closeWriteLoopCh:
			break loop
		}
	}

	// A send failure lands here too; closing the transport lets the
	// receive task wind down as well.
	_ = a.close()
	return nil
}

func (a *Association) awakeWriteLoop() {
	select {
	case a.awakeWriteLoopCh <- struct{}{}:
	default:
	}
}

// deferEvent queues fn to run once the association lock is released. User
// facing callbacks must never run under the lock.
// caller must hold a.lock.
func (a *Association) deferEvent(fn func()) {
	a.deferred = append(a.deferred, fn)
}

// caller must NOT hold a.lock.
func (a *Association) flushDeferred() {
	a.lock.Lock()
	deferred := a.deferred
	a.deferred = nil
	a.lock.Unlock()

	for _, fn := range deferred {
		fn()
	}
}

func (a *Association) notifyAssociated() {
	a.associatedOnce.Do(func() {
		if a.listener != nil {
			a.listener.OnAssociated(a)
		}
	})
}

func (a *Association) notifyDisassociated() {
	a.disassociatedOnce.Do(func() {
		if a.listener != nil {
			a.listener.OnDisassociated(a)
		}
	})
}

// handleInbound parses one incoming datagram and dispatches its chunks.
func (a *Association) handleInbound(raw []byte) error {
	p := &packet{}
	if err := p.unmarshal(raw); err != nil {
		a.logger.V(1).Info("unable to parse SCTP packet", "error", err)
		return nil
	}

	if err := checkPacket(p); err != nil {
		a.logger.V(1).Info("failed validating packet", "error", err)
		return nil
	}

	a.handleChunksStart()

	for _, c := range p.chunks {
		if err := a.handleChunk(p, c); err != nil {
			a.flushDeferred()
			return err
		}
	}

	a.handleChunksEnd()
	a.flushDeferred()

	return nil
}

func checkPacket(p *packet) error {
	// All packets must adhere to these rules

	// The port number 0 MUST NOT be used in either direction.
	if p.sourcePort == 0 {
		return ErrPacketSourcePortZero
	}
	if p.destinationPort == 0 {
		return ErrPacketDestinationPortZero
	}

	for _, c := range p.chunks {
		switch c.(type) {
		case *chunkInit:
			// An INIT or INIT ACK chunk MUST NOT be bundled with any other
			// chunk. They MUST be the only chunks present in the SCTP
			// packets that carry them.
			if len(p.chunks) != 1 {
				return ErrInitChunkBundled
			}

			// A packet containing an INIT chunk MUST have a zero
			// Verification Tag.
			if p.verificationTag != 0 {
				return ErrInitChunkVerifyTagNotZero
			}
		}
	}

	return nil
}

// setState atomically sets the state of the Association.
func (a *Association) setState(newState associationState) {
	oldState := associationState(atomic.SwapUint32(&a.state, uint32(newState)))
	if newState != oldState {
		a.logger.V(1).Info("state change", "from", oldState, "to", newState)
	}
}

// getState atomically returns the state of the Association.
func (a *Association) getState() associationState {
	return associationState(atomic.LoadUint32(&a.state))
}

// BytesSent returns the number of bytes sent.
func (a *Association) BytesSent() uint64 {
	return atomic.LoadUint64(&a.bytesSent)
}

// BytesReceived returns the number of bytes received.
func (a *Association) BytesReceived() uint64 {
	return atomic.LoadUint64(&a.bytesReceived)
}

// MTU returns the association's current MTU.
func (a *Association) MTU() uint32 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.mtu
}

// BufferedAmount returns total amount (in bytes) of currently buffered
// user data.
func (a *Association) BufferedAmount() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.pendingQueue.getNumBytes() + a.inflightQueue.getNumBytes()
}

func setSupportedExtensions(init *chunkInitCommon) {
	init.params = append(init.params, &paramSupportedExtensions{
		ChunkTypes: []chunkType{ctReconfig, ctForwardTSN},
	})
	init.params = append(init.params, &paramForwardTSNSupported{})
}

// The caller should hold the lock.
func (a *Association) handleInit(p *packet, c *chunkInit) ([]*packet, error) {
	state := a.getState()
	a.logger.V(1).Info("chunkInit received", "state", state)

	// RFC 4960 sec 5.2.1 and 5.2.2: in COOKIE-WAIT and COOKIE-ECHOED an
	// endpoint responds with another INIT ACK and keeps its state (INIT
	// collision); anywhere past the handshake the INIT is unexpected.
	if state != closed && state != cookieWait && state != cookieEchoed {
		return nil, fmt.Errorf("%w: %s", ErrHandleInitState, state)
	}

	a.myMaxNumInboundStreams = min16(c.numInboundStreams, a.myMaxNumInboundStreams)
	a.myMaxNumOutboundStreams = min16(c.numOutboundStreams, a.myMaxNumOutboundStreams)
	a.peerVerificationTag = c.initiateTag
	a.sourcePort = p.destinationPort
	a.destinationPort = p.sourcePort

	// 13.2 This is the last TSN received in sequence. This value is set
	// initially by taking the peer's initial TSN, received in the INIT or
	// INIT ACK chunk, and subtracting one from it.
	a.peerLastTSN = c.initialTSN - 1

	a.rwnd = c.advertisedReceiverWindowCredit
	a.logger.V(1).Info("initial rwnd", "rwnd", a.rwnd)

	a.negotiateExtensions(c.params)

	outbound := &packet{}
	outbound.verificationTag = a.peerVerificationTag
	outbound.sourcePort = a.sourcePort
	outbound.destinationPort = a.destinationPort

	initAck := &chunkInitAck{}
	initAck.initialTSN = a.myNextTSN
	initAck.numOutboundStreams = a.myMaxNumOutboundStreams
	initAck.numInboundStreams = a.myMaxNumInboundStreams
	initAck.initiateTag = a.myVerificationTag
	initAck.advertisedReceiverWindowCredit = a.maxReceiveBufferSize

	// Each (re)received INIT gets a fresh cookie; they all stay valid
	// until one of them establishes the association.
	cookie, err := a.cookies.issue()
	if err != nil {
		return nil, err
	}

	initAck.params = []param{cookie}
	setSupportedExtensions(&initAck.chunkInitCommon)

	outbound.chunks = []chunk{initAck}

	return pack(outbound), nil
}

// negotiateExtensions records the intersection of the peer's advertised
// chunk extensions with ours.
// The caller should hold the lock.
func (a *Association) negotiateExtensions(params []param) {
	for _, p := range params {
		switch v := p.(type) {
		case *paramSupportedExtensions:
			for _, t := range v.ChunkTypes {
				switch t {
				case ctReconfig:
					a.supportedExtensions = append(a.supportedExtensions, ctReconfig)
				case ctForwardTSN:
					a.logger.V(1).Info("use ForwardTSN")
					a.useForwardTSN = true
					a.supportedExtensions = append(a.supportedExtensions, ctForwardTSN)
				}
			}
		case *paramForwardTSNSupported:
			a.logger.V(1).Info("use ForwardTSN (forward-tsn-supported)")
			a.useForwardTSN = true
		}
	}
	if !a.useForwardTSN {
		a.logger.V(1).Info("not using ForwardTSN")
	}
}

// The caller should hold the lock.
func (a *Association) handleInitAck(p *packet, c *chunkInitAck) error {
	state := a.getState()
	a.logger.V(1).Info("chunkInitAck received", "state", state)

	if state != cookieWait {
		// RFC 4960 sec 5.2.3: an INIT ACK outside COOKIE-WAIT indicates
		// the processing of an old or duplicated INIT chunk; discard.
		return nil
	}

	a.myMaxNumInboundStreams = min16(c.numInboundStreams, a.myMaxNumInboundStreams)
	a.myMaxNumOutboundStreams = min16(c.numOutboundStreams, a.myMaxNumOutboundStreams)
	a.peerVerificationTag = c.initiateTag
	a.peerLastTSN = c.initialTSN - 1
	if a.sourcePort != p.destinationPort || a.destinationPort != p.sourcePort {
		a.logger.V(1).Info("handleInitAck: port mismatch")
		return nil
	}

	a.rwnd = c.advertisedReceiverWindowCredit
	a.logger.V(1).Info("initial rwnd", "rwnd", a.rwnd)

	// RFC 4690 Sec 7.2.1: the initial value of ssthresh MAY be
	// arbitrarily high; use the peer's advertised window.
	a.ssthresh = a.rwnd
	a.logger.V(2).Info("updated cwnd (INI)", "cwnd", a.cwnd, "ssthresh", a.ssthresh)

	a.t1Init.stop()
	a.storedInit = nil

	var cookieParam *paramStateCookie
	for _, param := range c.params {
		if v, ok := param.(*paramStateCookie); ok {
			cookieParam = v
		}
	}
	a.negotiateExtensions(c.params)

	if cookieParam == nil {
		return ErrInitAckNoCookie
	}

	a.storedCookieEcho = &chunkCookieEcho{}
	a.storedCookieEcho.cookie = cookieParam.cookie

	a.sendCookieEcho()

	a.t1Cookie.start(a.rtoMgr.getRTO())
	a.setState(cookieEchoed)

	return nil
}

// The caller should hold the lock.
func (a *Association) handleCookieEcho(c *chunkCookieEcho) []*packet {
	state := a.getState()
	a.logger.V(1).Info("COOKIE-ECHO received", "state", state)

	holder := a.cookies.find(c.cookie)
	if holder == nil {
		// Unknown cookies are silently discarded.
		return nil
	}

	// Stale cookies are answered with an ERROR chunk whose measure is the
	// overflow in microseconds (RFC 4960 sec 3.3.10.3).
	if staleness := holder.staleness(time.Now()); staleness > 0 {
		a.logger.V(1).Info("stale COOKIE-ECHO", "staleness", staleness)
		errChunk := &chunkError{
			errorCauses: []errorCause{&errorCauseStaleCookieError{
				measureOfStaleness: uint32(staleness.Microseconds()),
			}},
		}
		return pack(a.createPacket([]chunk{errChunk}))
	}

	switch state {
	case closed, cookieWait, cookieEchoed:
		a.t1Init.stop()
		a.storedInit = nil

		a.t1Cookie.stop()
		a.storedCookieEcho = nil

		// Only one cookie survives the handshake.
		a.cookies.retain(holder)

		a.setState(established)
		a.deferEvent(a.notifyAssociated)
	case established:
		// A replayed valid COOKIE-ECHO is acknowledged again without
		// re-announcing the association.
	default:
		return nil
	}

	return pack(a.createPacket([]chunk{&chunkCookieAck{}}))
}

// The caller should hold the lock.
func (a *Association) handleCookieAck() {
	state := a.getState()
	a.logger.V(1).Info("COOKIE-ACK received", "state", state)
	if state != cookieEchoed {
		// RFC 4960 sec 5.2.5: at any state other than COOKIE-ECHOED, an
		// endpoint should silently discard a received COOKIE ACK chunk.
		return
	}

	a.t1Cookie.stop()
	a.storedCookieEcho = nil

	a.setState(established)
	a.deferEvent(a.notifyAssociated)
}

// The caller should hold the lock.
func (a *Association) handleData(d *chunkPayloadData) []*packet {
	a.logger.V(2).Info("DATA chunk received",
		"tsn", d.tsn, "immediateSack", d.immediateSack, "len", len(d.userData))
	a.stats.incDATAs()

	canPush := a.payloadQueue.canPush(d, a.peerLastTSN)
	if canPush {
		s := a.getOrCreateStream(d.streamIdentifier)

		if a.getMyReceiverWindowCredit() > 0 {
			// Pass the new chunk to the stream level as soon as it arrives
			a.payloadQueue.pushNoCheck(d)
			a.deliverChunk(s, d)
		} else {
			// Receive buffer is full; only a chunk that fills an existing
			// gap may still enter.
			lastTSN, ok := a.payloadQueue.getLastTSNReceived()
			if ok && sna32LT(d.tsn, lastTSN) {
				a.logger.V(1).Info("receive buffer full, but accepted as this is a missing chunk",
					"tsn", d.tsn, "ssn", d.streamSequenceNumber)
				a.payloadQueue.pushNoCheck(d)
				a.deliverChunk(s, d)
			} else {
				a.logger.V(1).Info("receive buffer full, dropping DATA",
					"tsn", d.tsn, "ssn", d.streamSequenceNumber)
			}
		}
	}

	// RFC 4960 sec 6.7: upon detecting a gap in the received TSN sequence
	// a SACK with Gap Ack Blocks should go out immediately.
	gapDetected := sna32GT(d.tsn, a.peerLastTSN+1)
	sackNow := d.immediateSack || gapDetected

	return a.handlePeerLastTSNAndAcknowledgement(sackNow)
}

// deliverChunk hands one accepted DATA chunk to its stream, handling DCEP
// announcement on the first chunk of an inbound stream.
// The caller should hold the lock.
func (a *Association) deliverChunk(s *Stream, d *chunkPayloadData) {
	if s == nil {
		return
	}

	if !s.announced {
		if d.payloadType == PayloadTypeWebRTCDCEP {
			open := &dcepOpen{}
			if err := open.unmarshal(d.userData); err != nil {
				a.logger.V(1).Info("bad DCEP open message", "error", err)
				return
			}
			s.announced = true
			label := string(open.label)
			unordered, relType, relVal := open.reliability()
			s.setLabel(label)
			s.SetReliabilityParams(unordered, relType, relVal)

			// Answer with DATA_CHANNEL_ACK on the same stream.
			ackRaw, _ := (&dcepAck{}).marshal()
			a.deferEvent(func() {
				if _, err := s.WriteSCTP(ackRaw, PayloadTypeWebRTCDCEP); err != nil {
					a.logger.V(1).Info("failed to send DCEP ack", "error", err)
				}
				if a.listener != nil {
					a.listener.OnDCEPStream(s, label, d.payloadType)
				}
			})
			return
		}

		s.announced = true
		if a.listener != nil {
			a.deferEvent(func() { a.listener.OnRawStream(s) })
		}
	}

	if d.payloadType == PayloadTypeWebRTCDCEP {
		// DATA_CHANNEL_ACK for a locally announced stream; nothing to
		// deliver to the consumer.
		return
	}

	a.deferEvent(func() { s.handleData(d) })
}

// handlePeerLastTSNAndAcknowledgement advances the cumulative TSN over
// contiguously received chunks and folds the per-chunk ack triggers. A
// common routine for handleData and handleForwardTSN.
// The caller should hold the lock.
func (a *Association) handlePeerLastTSNAndAcknowledgement(sackImmediately bool) []*packet {
	var reply []*packet

	// Meaning, if peerLastTSN+1 points to a chunk that is received, advance
	// it until peerLastTSN+1 points to an unreceived chunk.
	for {
		if _, popOk := a.payloadQueue.pop(a.peerLastTSN + 1); !popOk {
			break
		}
		a.peerLastTSN++

		// A matured reset request may become actionable with every
		// advancement.
		for _, rstReq := range a.reconfigRequests {
			resp := a.resetStreamsIfAny(rstReq)
			if resp != nil {
				a.logger.V(1).Info("RESET RESPONSE", "response", resp)
				reply = append(reply, resp)
			}
		}
	}

	hasPacketLoss := a.payloadQueue.size() > 0
	if hasPacketLoss {
		a.logger.V(2).Info("packetloss", "blocks", a.payloadQueue.getGapAckBlocksString(a.peerLastTSN))
	}

	if sackImmediately || hasPacketLoss || a.ackState != ackStateIdle {
		a.immediateAckTriggered = true
	} else {
		a.delayedAckTriggered = true
	}

	return reply
}

// The caller should hold the lock.
func (a *Association) getMyReceiverWindowCredit() uint32 {
	bytesQueued := uint32(a.payloadQueue.getNumBytes())

	if bytesQueued >= a.maxReceiveBufferSize {
		return 0
	}
	return a.maxReceiveBufferSize - bytesQueued
}

// OpenStream opens a new locally initiated stream. Identifiers take the
// side's parity: even for the initiating side, odd for the responding one.
func (a *Association) OpenStream(label string, defaultPayloadType PayloadProtocolIdentifier) (*Stream, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	switch a.getState() {
	case closed, shutdownPending, shutdownSent, shutdownReceived, shutdownAckSent:
		return nil, ErrAssociationClosed
	}

	for {
		if _, ok := a.streams[a.myNextStreamID]; !ok {
			break
		}
		a.myNextStreamID += 2
	}
	sid := a.myNextStreamID
	a.myNextStreamID += 2

	s := a.createStream(sid)
	s.label = label
	s.announced = true
	s.SetDefaultPayloadType(defaultPayloadType)
	return s, nil
}

// createStream registers a new stream. The caller should hold the lock.
func (a *Association) createStream(streamIdentifier uint16) *Stream {
	s := &Stream{
		IEventEmitter:    NewEventEmitter(),
		association:      a,
		streamIdentifier: streamIdentifier,
		logger:           newStreamLogger(a.name, streamIdentifier),
	}
	a.streams[streamIdentifier] = s
	return s
}

// getOrCreateStream returns the stream for the identifier, creating it for
// an inbound DATA chunk on a previously unseen stream.
// The caller should hold the lock.
func (a *Association) getOrCreateStream(streamIdentifier uint16) *Stream {
	if s, ok := a.streams[streamIdentifier]; ok {
		return s
	}
	return a.createStream(streamIdentifier)
}

// unregisterStream removes a stream from the registry.
// The caller should hold the lock.
func (a *Association) unregisterStream(s *Stream) {
	delete(a.streams, s.streamIdentifier)
	a.deferEvent(func() { s.onInboundStreamReset() })
}

// The caller should hold the lock.
func (a *Association) processSelectiveAck(d *chunkSelectiveAck) (map[uint16]int, uint32, error) {
	bytesAckedPerStream := map[uint16]int{}

	// New ack point, so pop all ACKed packets from the inflight queue.
	// We add 1 because the "currentAckPoint" has already been popped from
	// the inflight queue. For the first SACK we take care of this by
	// setting the ackpoint to cumAck - 1.
	for i := a.cumulativeTSNAckPoint + 1; sna32LTE(i, d.cumulativeTSNAck); i++ {
		c, ok := a.inflightQueue.pop(i)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %v", ErrInflightQueueTSNPop, i)
		}

		if !c.acked {
			// RFC 4960 sec 6.3.2 R3: whenever a SACK acknowledges the DATA
			// chunk with the earliest outstanding TSN, restart T3-rtx.
			if i == a.cumulativeTSNAckPoint+1 {
				a.t3RTX.stop()
			}

			nBytesAcked := len(c.userData)
			bytesAckedPerStream[c.streamIdentifier] += nBytesAcked

			// RFC 4960 sec 6.3.1 C5 (Karn's algorithm): RTT measurements
			// MUST NOT be made using chunks that were retransmitted.
			if c.nSent == 1 && sna32GTE(c.tsn, a.minTSN2MeasureRTT) {
				a.minTSN2MeasureRTT = a.myNextTSN
				rtt := time.Since(c.since).Seconds() * 1000.0
				srtt := a.rtoMgr.setNewRTT(rtt)
				a.logger.V(2).Info("SACK rtt measurement",
					"rtt", rtt, "srtt", srtt, "rto", a.rtoMgr.getRTO())
			}
		}

		if a.inFastRecovery && c.tsn == a.fastRecoverExitPoint {
			a.logger.V(1).Info("exit fast-recovery")
			a.inFastRecovery = false
		}
	}

	htna := d.cumulativeTSNAck

	// Mark selectively acknowledged chunks as "acked"
	for _, g := range d.gapAckBlocks {
		for i := g.start; i <= g.end; i++ {
			tsn := d.cumulativeTSNAck + uint32(i)
			c, ok := a.inflightQueue.get(tsn)
			if !ok {
				return nil, 0, fmt.Errorf("%w: %v", ErrTSNRequestNotExist, tsn)
			}

			if !c.acked {
				nBytesAcked := a.inflightQueue.markAsAcked(tsn)
				bytesAckedPerStream[c.streamIdentifier] += nBytesAcked

				a.logger.V(2).Info("tsn has been sacked", "tsn", c.tsn)

				if c.nSent == 1 && sna32GTE(c.tsn, a.minTSN2MeasureRTT) {
					a.minTSN2MeasureRTT = a.myNextTSN
					rtt := time.Since(c.since).Seconds() * 1000.0
					srtt := a.rtoMgr.setNewRTT(rtt)
					a.logger.V(2).Info("SACK rtt measurement",
						"rtt", rtt, "srtt", srtt, "rto", a.rtoMgr.getRTO())
				}
			}

			if sna32LT(htna, tsn) {
				htna = tsn
			}
		}
	}

	return bytesAckedPerStream, htna, nil
}

// The caller should hold the lock.
func (a *Association) onCumulativeTSNAckPointAdvanced(totalBytesAcked int) {
	// RFC 4960 sec 6.3.2 R2: whenever all outstanding data has been
	// acknowledged, turn off the T3-rtx timer.
	if a.inflightQueue.size() == 0 {
		a.logger.V(2).Info("SACK: no more packet in-flight", "pending", a.pendingQueue.size())
		a.t3RTX.stop()
	} else {
		a.t3RTX.stop()
		a.t3RTX.start(a.rtoMgr.getRTO())
	}

	// Update congestion control parameters
	if a.cwnd <= a.ssthresh {
		// RFC 4960 sec 7.2.1: only grow in slow start when the window is
		// being used, the cumulative ack advances, and we are not in fast
		// recovery. The increment is the TCP variant: up to a full cwnd
		// per RTT rather than one MTU per SACK.
		if !a.inFastRecovery && a.pendingQueue.size() > 0 {
			a.cwnd += min32(uint32(totalBytesAcked), a.cwnd)
			a.logger.V(2).Info("updated cwnd (SS)",
				"cwnd", a.cwnd, "ssthresh", a.ssthresh, "acked", totalBytesAcked)
		} else {
			a.logger.V(2).Info("cwnd did not grow",
				"cwnd", a.cwnd, "ssthresh", a.ssthresh, "acked", totalBytesAcked,
				"fastRecovery", a.inFastRecovery, "pending", a.pendingQueue.size())
		}
	} else {
		// RFC 4960 sec 7.2.2: congestion avoidance grows cwnd by one MTU
		// per window's worth of acknowledged bytes.
		a.partialBytesAcked += uint32(totalBytesAcked)
		if a.partialBytesAcked >= a.cwnd && a.pendingQueue.size() > 0 {
			a.partialBytesAcked -= a.cwnd
			a.cwnd += a.mtu
			a.logger.V(2).Info("updated cwnd (CA)",
				"cwnd", a.cwnd, "ssthresh", a.ssthresh, "acked", totalBytesAcked)
		}
	}
}

// processFastRetransmission implements the HTNA algorithm (RFC 4960 sec
// 7.2.4): three miss indications trigger fast retransmit and halve the
// window.
// The caller should hold the lock.
func (a *Association) processFastRetransmission(cumTSNAckPoint, htna uint32, cumTSNAckPointAdvanced bool) error {
	// Miss indications are incremented when either:
	// a) not in fast-recovery, for missing TSNs prior to the highest TSN
	//    newly acknowledged, or
	// b) in fast-recovery with the cumulative ack advancing, for all TSNs
	//    reported missing.
	if !a.inFastRecovery || cumTSNAckPointAdvanced {
		var maxTSN uint32
		if !a.inFastRecovery {
			maxTSN = htna
		} else {
			maxTSN = cumTSNAckPoint + uint32(a.inflightQueue.size()) + 1
		}

		for tsn := cumTSNAckPoint + 1; sna32LT(tsn, maxTSN); tsn++ {
			c, ok := a.inflightQueue.get(tsn)
			if !ok {
				return fmt.Errorf("%w: %v", ErrTSNRequestNotExist, tsn)
			}
			if !c.acked && !c.isAbandoned() && c.missIndicator < 3 {
				c.missIndicator++
				if c.missIndicator == 3 && !a.inFastRecovery {
					// RFC 4960 sec 7.2.3/7.2.4
					a.inFastRecovery = true
					a.fastRecoverExitPoint = htna
					a.ssthresh = max32(a.cwnd/2, 4*a.mtu)
					a.cwnd = a.ssthresh
					a.partialBytesAcked = 0
					a.willRetransmitFast = true

					a.logger.V(2).Info("updated cwnd (FR)",
						"cwnd", a.cwnd, "ssthresh", a.ssthresh)
				}
			}
		}
	}

	if a.inFastRecovery && cumTSNAckPointAdvanced {
		a.willRetransmitFast = true
	}

	return nil
}

// The caller should hold the lock.
func (a *Association) handleSack(d *chunkSelectiveAck) error {
	a.logger.V(2).Info("SACK received",
		"cumTSN", d.cumulativeTSNAck, "arwnd", d.advertisedReceiverWindowCredit)

	state := a.getState()
	if state != established {
		return nil
	}
	a.stats.incSACKsReceived()

	if sna32GT(a.cumulativeTSNAckPoint, d.cumulativeTSNAck) {
		// RFC 4960 sec 6.2.1 D i): the cumulative TSN ack is monotonic; an
		// older SACK is out-of-order and dropped.
		a.logger.V(1).Info("SACK cumulative ACK is older than ack point",
			"cumAck", d.cumulativeTSNAck, "ackPoint", a.cumulativeTSNAckPoint)
		return nil
	}

	bytesAckedPerStream, htna, err := a.processSelectiveAck(d)
	if err != nil {
		return err
	}

	var totalBytesAcked int
	for _, nBytesAcked := range bytesAckedPerStream {
		totalBytesAcked += nBytesAcked
	}

	cumTSNAckPointAdvanced := false
	if sna32LT(a.cumulativeTSNAckPoint, d.cumulativeTSNAck) {
		a.logger.V(2).Info("SACK: cumTSN advanced",
			"from", a.cumulativeTSNAckPoint, "to", d.cumulativeTSNAck)
		a.cumulativeTSNAckPoint = d.cumulativeTSNAck
		cumTSNAckPointAdvanced = true
		a.onCumulativeTSNAckPointAdvanced(totalBytesAcked)
	}

	// RFC 4960 sec 6.2.1 D ii): set rwnd to the newly received a_rwnd
	// minus the bytes still outstanding.
	bytesOutstanding := uint32(a.inflightQueue.getNumBytes())
	if bytesOutstanding >= d.advertisedReceiverWindowCredit {
		a.rwnd = 0
	} else {
		a.rwnd = d.advertisedReceiverWindowCredit - bytesOutstanding
	}

	if err := a.processFastRetransmission(d.cumulativeTSNAck, htna, cumTSNAckPointAdvanced); err != nil {
		return err
	}

	if a.useForwardTSN {
		// RFC 3758 sec 3.5 C1
		if sna32LT(a.advancedPeerTSNAckPoint, a.cumulativeTSNAckPoint) {
			a.advancedPeerTSNAckPoint = a.cumulativeTSNAckPoint
		}

		// RFC 3758 sec 3.5 C2
		for i := a.advancedPeerTSNAckPoint + 1; ; i++ {
			c, ok := a.inflightQueue.get(i)
			if !ok || !c.isAbandoned() {
				break
			}
			a.advancedPeerTSNAckPoint = i
		}

		// RFC 3758 sec 3.5 C3
		if sna32GT(a.advancedPeerTSNAckPoint, a.cumulativeTSNAckPoint) {
			a.willSendForwardTSN = true
		}
	}

	if a.inflightQueue.size() > 0 {
		// Start timer. (noop if already started)
		a.t3RTX.start(a.rtoMgr.getRTO())
	}

	if cumTSNAckPointAdvanced {
		a.awakeWriteLoop()
	}

	return nil
}

// The caller should hold the lock.
func (a *Association) handleAbort(c *chunkAbort) error {
	var errStr string
	for _, e := range c.errorCauses {
		errStr += fmt.Sprintf("(%s)", e)
	}
	return fmt.Errorf("%w: %s", ErrAssociationClosed, errStr)
}

// createForwardTSN builds a FORWARD-TSN carrying the advanced ack point
// and, per stream, the greatest abandoned SSN (RFC 3758 sec 3.5 C4).
// The caller should hold the lock.
func (a *Association) createForwardTSN() *chunkForwardTSN {
	streamMap := map[uint16]uint16{} // to report only once per SI
	for i := a.cumulativeTSNAckPoint + 1; sna32LTE(i, a.advancedPeerTSNAckPoint); i++ {
		c, ok := a.inflightQueue.get(i)
		if !ok {
			break
		}

		ssn, ok := streamMap[c.streamIdentifier]
		if !ok || sna16LT(ssn, c.streamSequenceNumber) {
			streamMap[c.streamIdentifier] = c.streamSequenceNumber
		}
	}

	fwdtsn := &chunkForwardTSN{
		newCumulativeTSN: a.advancedPeerTSNAckPoint,
		streams:          []chunkForwardTSNStream{},
	}

	for si, ssn := range streamMap {
		fwdtsn.streams = append(fwdtsn.streams, chunkForwardTSNStream{
			identifier: si,
			sequence:   ssn,
		})
	}
	a.logger.V(2).Info("building fwdtsn",
		"newCumulativeTSN", fwdtsn.newCumulativeTSN, "cumTSN", a.cumulativeTSNAckPoint)

	return fwdtsn
}

// createPacket wraps chunks in a packet addressed to the peer.
// The caller should hold the lock.
func (a *Association) createPacket(cs []chunk) *packet {
	return &packet{
		verificationTag: a.peerVerificationTag,
		sourcePort:      a.sourcePort,
		destinationPort: a.destinationPort,
		chunks:          cs,
	}
}

// The caller should hold the lock.
func (a *Association) handleReconfig(c *chunkReconfig) ([]*packet, error) {
	a.logger.V(2).Info("handleReconfig")

	pp := make([]*packet, 0)

	p, err := a.handleReconfigParam(c.paramA)
	if err != nil {
		return nil, err
	}
	if p != nil {
		pp = append(pp, p)
	}

	if c.paramB != nil {
		p, err = a.handleReconfigParam(c.paramB)
		if err != nil {
			return nil, err
		}
		if p != nil {
			pp = append(pp, p)
		}
	}
	return pp, nil
}

// The caller should hold the lock.
func (a *Association) handleReconfigParam(raw param) (*packet, error) {
	switch p := raw.(type) {
	case *paramOutgoingResetRequest:
		a.reconfigRequests[p.reconfigRequestSequenceNumber] = p
		resp := a.resetStreamsIfAny(p)
		if resp != nil {
			return resp, nil
		}
		return nil, nil

	case *paramReconfigResponse:
		if p.result == reconfigResultInProgress {
			// RFC 6525 sec 5.2.7: restart the reconfiguration timer and
			// retransmit later without counting an error.
			if _, ok := a.reconfigs[p.reconfigResponseSequenceNumber]; ok {
				a.tReconfig.stop()
				a.tReconfig.start(a.rtoMgr.getRTO())
			}
			return nil, nil
		}

		// The peer has answered our reset; the named streams go away now.
		if c, ok := a.reconfigs[p.reconfigResponseSequenceNumber]; ok {
			if req, ok := c.paramA.(*paramOutgoingResetRequest); ok {
				for _, sid := range req.streamIdentifiers {
					if s, ok := a.streams[sid]; ok {
						a.unregisterStream(s)
					}
				}
			}
		}
		delete(a.reconfigs, p.reconfigResponseSequenceNumber)
		if len(a.reconfigs) == 0 {
			a.tReconfig.stop()
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrParameterType, p)
	}
}

// resetStreamsIfAny answers an inbound reset request: once every TSN up to
// the sender's last has been received, the streams are torn down and the
// request acknowledged; until then the response is "in progress".
// The caller should hold the lock.
func (a *Association) resetStreamsIfAny(p *paramOutgoingResetRequest) *packet {
	result := reconfigResultSuccessPerformed
	if sna32LTE(p.senderLastTSN, a.peerLastTSN) {
		a.logger.V(1).Info("resetStream(): senderLastTSN reached",
			"senderLastTSN", p.senderLastTSN, "peerLastTSN", a.peerLastTSN)
		for _, id := range p.streamIdentifiers {
			s, ok := a.streams[id]
			if !ok {
				continue
			}
			a.unregisterStream(s)
		}
		delete(a.reconfigRequests, p.reconfigRequestSequenceNumber)
	} else {
		a.logger.V(1).Info("resetStream(): senderLastTSN not yet reached",
			"senderLastTSN", p.senderLastTSN, "peerLastTSN", a.peerLastTSN)
		result = reconfigResultInProgress
	}

	return a.createPacket([]chunk{&chunkReconfig{
		paramA: &paramReconfigResponse{
			reconfigResponseSequenceNumber: p.reconfigRequestSequenceNumber,
			result:                         result,
		},
	}})
}

// sendResetRequest queues an empty DATA chunk as an end-of-stream marker
// for the given stream; the gather loop turns it into a RECONFIG.
func (a *Association) sendResetRequest(streamIdentifier uint16) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	state := a.getState()
	if state != established {
		return fmt.Errorf("%w: state=%s", ErrResetPacketInStateNotExist, state)
	}

	a.pendingQueue.push(&chunkPayloadData{
		streamIdentifier:  streamIdentifier,
		beginningFragment: true,
		endingFragment:    true,
		userData:          nil,
	})
	a.awakeWriteLoop()

	return nil
}

// The caller should hold the lock.
func (a *Association) handleForwardTSN(c *chunkForwardTSN) []*packet {
	a.logger.V(2).Info("FwdTSN", "chunk", c.String())

	if !a.useForwardTSN {
		a.logger.V(1).Info("received FwdTSN but not enabled")
		// Return an error chunk
		cerr := &chunkError{
			errorCauses: []errorCause{&errorCauseUnrecognizedChunkType{}},
		}
		return pack(a.createPacket([]chunk{cerr}))
	}

	// RFC 3758 sec 3.6: a FORWARD TSN behind the cumulative point is
	// out-of-date, but a SACK should still go out as the previous one may
	// have been lost.
	if sna32LTE(c.newCumulativeTSN, a.peerLastTSN) {
		a.logger.V(2).Info("sending ack on Forward TSN")
		a.ackState = ackStateImmediate
		a.ackTimer.stop()
		a.awakeWriteLoop()
		return nil
	}

	// Advance peerLastTSN to the chunk's value, dropping anything queued
	// below it, then resume normal TSN handling.
	for sna32LT(a.peerLastTSN, c.newCumulativeTSN) {
		a.payloadQueue.pop(a.peerLastTSN + 1) // may not exist
		a.peerLastTSN++
	}

	return a.handlePeerLastTSNAndAcknowledgement(false)
}

// Move the chunk peeked with a.pendingQueue.peek() to the inflightQueue.
// The caller should hold the lock.
func (a *Association) movePendingDataChunkToInflightQueue(c *chunkPayloadData) {
	if err := a.pendingQueue.pop(c); err != nil {
		a.logger.Error(err, "failed to pop from pending queue")
	}

	if c.endingFragment {
		c.setAllInflight()
	}

	// Assign TSN and the original transmission timestamps
	c.tsn = a.generateNextTSN()
	now := time.Now()
	c.since = now
	c.retryTime = now.Add(time.Duration(a.rtoMgr.getRTO())*time.Millisecond - time.Millisecond)
	c.nSent = 1

	a.checkPartialReliabilityStatus(c)

	a.logger.V(2).Info("sending data chunk",
		"ppi", c.payloadType, "tsn", c.tsn, "ssn", c.streamSequenceNumber,
		"sent", c.nSent, "len", len(c.userData),
		"beginning", c.beginningFragment, "ending", c.endingFragment)

	a.inflightQueue.pushNoCheck(c)
}

// popPendingDataChunksToSend pops chunks off the pending queue as long as
// the congestion and receiver windows allow, collecting the stream
// identifiers of reset markers on the way.
// The caller should hold the lock.
func (a *Association) popPendingDataChunksToSend() ([]*chunkPayloadData, []uint16) {
	chunks := []*chunkPayloadData{}
	var sisToReset []uint16 // stream identifiers to reset

	if a.pendingQueue.size() > 0 {
		// RFC 4960 sec 6.1 A): no new data while rwnd reports zero buffer
		// space, except for the zero window probe below.
		for {
			c := a.pendingQueue.peek()
			if c == nil {
				break // no more pending data
			}

			dataLen := uint32(len(c.userData))
			if dataLen == 0 {
				sisToReset = append(sisToReset, c.streamIdentifier)
				if err := a.pendingQueue.pop(c); err != nil {
					a.logger.Error(err, "failed to pop from pending queue")
				}
				continue
			}

			if uint32(a.inflightQueue.getNumBytes())+dataLen > a.cwnd {
				break // would exceed cwnd
			}

			if dataLen > a.rwnd {
				break // no more rwnd
			}

			a.rwnd -= dataLen

			a.movePendingDataChunkToInflightQueue(c)
			chunks = append(chunks, c)
		}

		// RFC 4960 sec 6.1: the sender can always have one DATA chunk in
		// flight to the receiver regardless of rwnd (zero window probe).
		if len(chunks) == 0 && a.inflightQueue.size() == 0 {
			c := a.pendingQueue.peek()
			if c != nil && len(c.userData) > 0 {
				a.movePendingDataChunkToInflightQueue(c)
				chunks = append(chunks, c)
			}
		}
	}

	return chunks, sisToReset
}

// bundleDataChunksIntoPackets packs DATA chunks into as few packets as the
// path MTU allows (RFC 4960 sec 6.1).
// The caller should hold the lock.
func (a *Association) bundleDataChunksIntoPackets(chunks []*chunkPayloadData) []*packet {
	packets := []*packet{}
	chunksToSend := []chunk{}
	bytesInPacket := int(commonHeaderSize)

	for _, c := range chunks {
		// DATA chunks (including retransmissions) may be bundled so long
		// as the full packet stays within the MTU.
		chunkSizeInPacket := int(dataChunkHeaderSize) + len(c.userData)
		chunkSizeInPacket += getPadding(chunkSizeInPacket)
		if bytesInPacket+chunkSizeInPacket > int(a.mtu) {
			packets = append(packets, a.createPacket(chunksToSend))
			chunksToSend = []chunk{}
			bytesInPacket = int(commonHeaderSize)
		}
		chunksToSend = append(chunksToSend, c)
		bytesInPacket += chunkSizeInPacket
	}

	if len(chunksToSend) > 0 {
		packets = append(packets, a.createPacket(chunksToSend))
	}

	return packets
}

// sendPayloadData commits data chunks for transmission.
func (a *Association) sendPayloadData(chunks []*chunkPayloadData) error {
	a.lock.Lock()

	state := a.getState()
	if state != established {
		a.lock.Unlock()
		return fmt.Errorf("%w: state=%s", ErrPayloadDataStateNotExist, state)
	}

	for _, c := range chunks {
		a.pendingQueue.push(c)
	}

	a.lock.Unlock()
	a.awakeWriteLoop()
	return nil
}

// checkPartialReliabilityStatus evaluates a chunk against its stream's
// reliability variant and abandons it when the budget is spent (RFC 3758).
// The caller should hold the lock.
func (a *Association) checkPartialReliabilityStatus(c *chunkPayloadData) {
	if !a.useForwardTSN {
		return
	}

	// From draft-ietf-rtcweb-data-protocol-09, section 6: DCEP messages
	// are always sent reliable and in order.
	if c.payloadType == PayloadTypeWebRTCDCEP {
		return
	}

	if s, ok := a.streams[c.streamIdentifier]; ok {
		s.lock.RLock()
		if s.reliabilityType == ReliabilityTypeRexmit {
			if c.nSent >= s.reliabilityValue {
				c.setAbandoned(true)
				a.logger.V(2).Info("marked as abandoned",
					"tsn", c.tsn, "ppi", c.payloadType, "rexmit", c.nSent)
			}
		} else if s.reliabilityType == ReliabilityTypeTimed {
			elapsed := int64(time.Since(c.since).Seconds() * 1000)
			if elapsed >= int64(s.reliabilityValue) {
				c.setAbandoned(true)
				a.logger.V(2).Info("marked as abandoned",
					"tsn", c.tsn, "ppi", c.payloadType, "timed", elapsed)
			}
		}
		s.lock.RUnlock()
	} else {
		// Remote has reset its side of the stream; data may still flow.
		a.logger.V(2).Info("stream not found, remote reset", "sid", c.streamIdentifier)
	}
}

// getDataPacketsToRetransmit collects the chunks marked for retransmission
// in ascending TSN order, bounded by min(cwnd, rwnd); the first chunk may
// go out as a zero window probe.
// The caller should hold the lock.
func (a *Association) getDataPacketsToRetransmit() []*packet {
	awnd := min32(a.cwnd, a.rwnd)
	chunks := []*chunkPayloadData{}
	var bytesToSend int
	now := time.Now()

	for i := 0; ; i++ {
		c, ok := a.inflightQueue.get(a.cumulativeTSNAckPoint + uint32(i) + 1)
		if !ok {
			break // end of pending data
		}

		if !c.retransmit {
			continue
		}

		if i == 0 && int(a.rwnd) < len(c.userData) {
			// Send it as a zero window probe
		} else if bytesToSend+len(c.userData) > int(awnd) {
			break
		}

		c.retransmit = false
		bytesToSend += len(c.userData)

		c.nSent++
		c.since = now
		c.retryTime = now.Add(time.Duration(a.rtoMgr.getRTO())*time.Millisecond - time.Millisecond)

		a.checkPartialReliabilityStatus(c)

		a.logger.V(2).Info("retransmitting",
			"tsn", c.tsn, "ssn", c.streamSequenceNumber, "sent", c.nSent)

		chunks = append(chunks, c)
	}

	return a.bundleDataChunksIntoPackets(chunks)
}

// generateNextTSN returns myNextTSN and increases it.
// The caller should hold the lock.
func (a *Association) generateNextTSN() uint32 {
	tsn := a.myNextTSN
	a.myNextTSN++
	return tsn
}

// generateNextRSN returns myNextRSN and increases it.
// The caller should hold the lock.
func (a *Association) generateNextRSN() uint32 {
	rsn := a.myNextRSN
	a.myNextRSN++
	return rsn
}

// The caller should hold the lock.
func (a *Association) createSelectiveAckChunk() *chunkSelectiveAck {
	sack := &chunkSelectiveAck{}
	sack.cumulativeTSNAck = a.peerLastTSN
	sack.advertisedReceiverWindowCredit = a.getMyReceiverWindowCredit()
	sack.duplicateTSN = a.payloadQueue.popDuplicates()
	sack.gapAckBlocks = a.payloadQueue.getGapAckBlocks(a.peerLastTSN)
	return sack
}

func pack(p *packet) []*packet {
	return []*packet{p}
}

func (a *Association) handleChunksStart() {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.stats.incPacketsReceived()

	a.delayedAckTriggered = false
	a.immediateAckTriggered = false
}

// handleChunksEnd collapses the per-packet ack triggers into the ack
// state, so a multi-chunk packet schedules at most one SACK.
func (a *Association) handleChunksEnd() {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.immediateAckTriggered {
		a.ackState = ackStateImmediate
		a.ackTimer.stop()
		a.awakeWriteLoop()
	} else if a.delayedAckTriggered {
		// Will send delayed ack in the next ack timeout
		a.ackState = ackStateDelay
		a.ackTimer.start()
	}
}

func (a *Association) handleChunk(p *packet, c chunk) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	var packets []*packet
	var err error

	if _, err = c.check(); err != nil {
		a.logger.V(1).Info("failed validating chunk", "error", err)
		return nil
	}

	isAbort := false

	switch c := c.(type) {
	case *chunkInit:
		packets, err = a.handleInit(p, c)

	case *chunkInitAck:
		err = a.handleInitAck(p, c)

	case *chunkAbort:
		isAbort = true
		err = a.handleAbort(c)

	case *chunkError:
		var errStr string
		for _, e := range c.errorCauses {
			errStr += fmt.Sprintf("(%s)", e)
		}
		a.logger.V(1).Info("error chunk", "causes", errStr)

	case *chunkCookieEcho:
		packets = a.handleCookieEcho(c)

	case *chunkCookieAck:
		a.handleCookieAck()

	case *chunkPayloadData:
		packets = a.handleData(c)

	case *chunkSelectiveAck:
		err = a.handleSack(c)

	case *chunkReconfig:
		packets, err = a.handleReconfig(c)

	case *chunkForwardTSN:
		packets = a.handleForwardTSN(c)

	default:
		err = ErrChunkTypeUnhandled
	}

	// Log and return, the only condition that is fatal is an ABORT chunk
	if err != nil {
		if isAbort {
			return err
		}
		a.logger.Error(err, "failed to handle chunk")
		return nil
	}

	if len(packets) > 0 {
		a.controlQueue.pushAll(packets)
		a.awakeWriteLoop()
	}

	return nil
}

// gatherOutbound assembles everything due for the wire in one pass under
// the lock: control chunks first, then retransmissions, new data and
// reconfigs, fast retransmissions, the SACK and a FORWARD-TSN.
func (a *Association) gatherOutbound() [][]byte {
	a.lock.Lock()
	defer a.lock.Unlock()

	rawPackets := [][]byte{}

	if a.controlQueue.size() > 0 {
		for _, p := range a.controlQueue.popAll() {
			raw, err := p.marshal()
			if err != nil {
				a.logger.V(1).Info("failed to serialize a control packet")
				continue
			}
			rawPackets = append(rawPackets, raw)
		}
	}

	state := a.getState()
	if state == established {
		rawPackets = a.gatherDataPacketsToRetransmit(rawPackets)
		rawPackets = a.gatherOutboundDataAndReconfigPackets(rawPackets)
		rawPackets = a.gatherOutboundFastRetransmissionPackets(rawPackets)
		rawPackets = a.gatherOutboundSackPackets(rawPackets)
		rawPackets = a.gatherOutboundForwardTSNPackets(rawPackets)
	}

	return rawPackets
}

// The caller should hold the lock.
func (a *Association) gatherDataPacketsToRetransmit(rawPackets [][]byte) [][]byte {
	for _, p := range a.getDataPacketsToRetransmit() {
		raw, err := p.marshal()
		if err != nil {
			a.logger.V(1).Info("failed to serialize a DATA packet to be retransmitted")
			continue
		}
		rawPackets = append(rawPackets, raw)
	}
	return rawPackets
}

// The caller should hold the lock.
func (a *Association) gatherOutboundDataAndReconfigPackets(rawPackets [][]byte) [][]byte {
	// Pop unsent data chunks from the pending queue to send as much as
	// cwnd and rwnd allow.
	chunks, sisToReset := a.popPendingDataChunksToSend()

	if len(chunks) > 0 {
		// Start timer. (noop if already started)
		a.logger.V(2).Info("T3-rtx timer start (pt1)")
		a.t3RTX.start(a.rtoMgr.getRTO())
		for _, p := range a.bundleDataChunksIntoPackets(chunks) {
			raw, err := p.marshal()
			if err != nil {
				a.logger.V(1).Info("failed to serialize a DATA packet")
				continue
			}
			rawPackets = append(rawPackets, raw)
		}
	}

	if len(sisToReset) > 0 || a.willRetransmitReconfig {
		if a.willRetransmitReconfig {
			a.willRetransmitReconfig = false
			a.logger.V(1).Info("retransmit RECONFIG chunk(s)", "count", len(a.reconfigs))
			for _, c := range a.reconfigs {
				p := a.createPacket([]chunk{c})
				raw, err := p.marshal()
				if err != nil {
					a.logger.V(1).Info("failed to serialize a RECONFIG packet to be retransmitted")
				} else {
					rawPackets = append(rawPackets, raw)
				}
			}
		}

		if len(sisToReset) > 0 {
			rsn := a.generateNextRSN()
			tsn := a.myNextTSN - 1
			c := &chunkReconfig{
				paramA: &paramOutgoingResetRequest{
					reconfigRequestSequenceNumber: rsn,
					senderLastTSN:                 tsn,
					streamIdentifiers:             sisToReset,
				},
			}
			a.reconfigs[rsn] = c // store in the map for retransmission
			a.logger.V(1).Info("sending RECONFIG",
				"rsn", rsn, "tsn", tsn, "streams", sisToReset)
			p := a.createPacket([]chunk{c})
			raw, err := p.marshal()
			if err != nil {
				a.logger.V(1).Info("failed to serialize a RECONFIG packet to be transmitted")
			} else {
				rawPackets = append(rawPackets, raw)
			}
		}

		if len(a.reconfigs) > 0 {
			a.tReconfig.start(a.rtoMgr.getRTO())
		}
	}

	return rawPackets
}

// gatherOutboundFastRetransmissionPackets bundles every chunk with three
// miss indications into a single packet bounded by the MTU alone, ignoring
// cwnd (RFC 4960 sec 7.2.4 point 3).
// The caller should hold the lock.
func (a *Association) gatherOutboundFastRetransmissionPackets(rawPackets [][]byte) [][]byte {
	if !a.willRetransmitFast {
		return rawPackets
	}
	a.willRetransmitFast = false

	toFastRetrans := []chunk{}
	fastRetransSize := int(commonHeaderSize)
	now := time.Now()

	for i := 0; ; i++ {
		c, ok := a.inflightQueue.get(a.cumulativeTSNAckPoint + uint32(i) + 1)
		if !ok {
			break // end of pending data
		}

		if c.acked || c.isAbandoned() || c.nSent > 1 || c.missIndicator < 3 {
			continue
		}

		// RFC 4960 sec 7.2.4: retransmit as many of the earliest DATA
		// chunks marked for fast retransmission as one MTU's packet fits.
		dataChunkSize := int(dataChunkHeaderSize) + len(c.userData)
		dataChunkSize += getPadding(dataChunkSize)
		if int(a.mtu) < fastRetransSize+dataChunkSize {
			break
		}

		fastRetransSize += dataChunkSize
		a.stats.incFastRetrans()
		c.nSent++
		c.since = now
		a.checkPartialReliabilityStatus(c)
		toFastRetrans = append(toFastRetrans, c)
		a.logger.V(2).Info("fast-retransmit",
			"tsn", c.tsn, "sent", c.nSent, "htna", a.fastRecoverExitPoint)
	}

	if len(toFastRetrans) > 0 {
		raw, err := a.createPacket(toFastRetrans).marshal()
		if err != nil {
			a.logger.V(1).Info("failed to serialize a DATA packet to be fast-retransmitted")
		} else {
			rawPackets = append(rawPackets, raw)
		}
	}

	return rawPackets
}

// The caller should hold the lock.
func (a *Association) gatherOutboundSackPackets(rawPackets [][]byte) [][]byte {
	if a.ackState == ackStateImmediate {
		a.ackState = ackStateIdle
		sack := a.createSelectiveAckChunk()
		a.stats.incSACKsSent()
		a.logger.V(2).Info("sending SACK", "sack", sack)
		raw, err := a.createPacket([]chunk{sack}).marshal()
		if err != nil {
			a.logger.V(1).Info("failed to serialize a SACK packet")
		} else {
			rawPackets = append(rawPackets, raw)
		}
	}
	return rawPackets
}

// The caller should hold the lock.
func (a *Association) gatherOutboundForwardTSNPackets(rawPackets [][]byte) [][]byte {
	if a.willSendForwardTSN {
		a.willSendForwardTSN = false
		if sna32GT(a.advancedPeerTSNAckPoint, a.cumulativeTSNAckPoint) {
			fwdtsn := a.createForwardTSN()
			raw, err := a.createPacket([]chunk{fwdtsn}).marshal()
			if err != nil {
				a.logger.V(1).Info("failed to serialize a Forward TSN packet")
			} else {
				rawPackets = append(rawPackets, raw)
			}
		}
	}
	return rawPackets
}

// onRetransmissionTimeout implements the per-timer expiry actions listed
// in RFC 4960 sec 6.3.3.
func (a *Association) onRetransmissionTimeout(id int, nRtos uint) {
	a.lock.Lock()

	switch id {
	case timerT1Init:
		a.sendInit()

	case timerT1Cookie:
		a.sendCookieEcho()

	case timerT3RTX:
		a.stats.incT3Timeouts()

		// RFC 4960 sec 6.3.3 E1 / sec 7.2.3: on T3 expiry perform slow
		// start: ssthresh = max(cwnd/2, 4*MTU), cwnd = 1*MTU.
		a.ssthresh = max32(a.cwnd/2, 4*a.mtu)
		a.cwnd = a.mtu
		a.logger.V(2).Info("updated cwnd (RTO)",
			"cwnd", a.cwnd, "ssthresh", a.ssthresh, "nRtos", nRtos)

		// RFC 3758 sec 3.5 A5: on T3 expiry try to advance the advanced
		// peer ack point past abandoned chunks.
		if a.useForwardTSN {
			for i := a.advancedPeerTSNAckPoint + 1; ; i++ {
				c, ok := a.inflightQueue.get(i)
				if !ok || !c.isAbandoned() {
					break
				}
				a.advancedPeerTSNAckPoint = i
			}

			if sna32GT(a.advancedPeerTSNAckPoint, a.cumulativeTSNAckPoint) {
				a.willSendForwardTSN = true
			}
		}

		a.inflightQueue.markAllToRetrasmit()
		a.awakeWriteLoop()

	case timerReconfig:
		a.willRetransmitReconfig = true
		a.awakeWriteLoop()
	}

	a.lock.Unlock()
	a.flushDeferred()
}

// onRetransmissionFailure surfaces handshake exhaustion; T3 and reconfig
// retry forever.
func (a *Association) onRetransmissionFailure(id int) {
	switch id {
	case timerT1Init:
		a.logger.Error(ErrHandshakeInitAck, "retransmission failure: T1-init")
		a.unexpectedClose(ErrHandshakeInitAck)

	case timerT1Cookie:
		a.logger.Error(ErrHandshakeCookieEcho, "retransmission failure: T1-cookie")
		a.unexpectedClose(ErrHandshakeCookieEcho)
	}
}

// onAckTimeout promotes the pending delayed ack to an immediate one.
func (a *Association) onAckTimeout() {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.logger.V(2).Info("ack timed out", "ackState", a.ackState)
	a.stats.incAckTimeouts()

	a.ackState = ackStateImmediate
	a.awakeWriteLoop()
}
