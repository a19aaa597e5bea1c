package sctp

import "errors"

var (
	ErrAssociationClosed         = errors.New("association is closed")
	ErrAssociationAlreadyStarted = errors.New("association already started")
	ErrAssociationNotEstablished = errors.New("association is not established")
	ErrHandshakeInitAck          = errors.New("handshake failed (INIT ACK)")
	ErrHandshakeCookieEcho       = errors.New("handshake failed (COOKIE ECHO)")
	ErrTransportClosed           = errors.New("transport is closed")
	ErrStreamClosed              = errors.New("stream is closed")
	ErrMessageTooLarge           = errors.New("outbound message larger than maximum message size")
	ErrSilentlyDiscard           = errors.New("silently discard")

	ErrPacketSourcePortZero       = errors.New("sctp packet must not have a source port of 0")
	ErrPacketDestinationPortZero  = errors.New("sctp packet must not have a destination port of 0")
	ErrInitChunkBundled           = errors.New("init chunk must not be bundled with any other chunk")
	ErrInitChunkVerifyTagNotZero  = errors.New("init chunk expects a verification tag of 0 on the packet")
	ErrHandleInitState            = errors.New("unexpected INIT in state")
	ErrInitAckNoCookie            = errors.New("no cookie in InitAck")
	ErrInflightQueueTSNPop        = errors.New("unable to be popped from inflight queue TSN")
	ErrTSNRequestNotExist         = errors.New("requested non-existent TSN")
	ErrResetPacketInStateNotExist = errors.New("sending reset packet in non-established state")
	ErrParameterType              = errors.New("unexpected parameter type")
	ErrPayloadDataStateNotExist   = errors.New("sending payload data in non-established state")
	ErrChunkTypeUnhandled         = errors.New("unhandled chunk type")
)
