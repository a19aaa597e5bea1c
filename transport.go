package sctp

import "time"

// Transport is the datagram layer an association runs over, typically a
// DTLS connection when used for WebRTC data channels. Implementations must
// be safe for one concurrent receiver and one concurrent sender.
type Transport interface {
	// Receive blocks for up to timeout waiting for one inbound datagram
	// and copies it into buf. It returns (0, nil) when the timeout lapses
	// with no data, and a non-nil error once the transport is closed.
	Receive(buf []byte, timeout time.Duration) (int, error)

	// Send writes one datagram.
	Send(buf []byte) error

	// Close terminates the transport. Pending and subsequent Receive
	// calls return an error.
	Close() error
}

// AssociationListener receives association lifecycle callbacks. Only
// handshake completion, termination and new inbound streams are surfaced;
// protocol-level anomalies are recovered internally.
type AssociationListener interface {
	// OnAssociated fires once when the handshake completes.
	OnAssociated(a *Association)

	// OnDisassociated fires exactly once when the association terminates,
	// whether gracefully or by ABORT/transport failure.
	OnDisassociated(a *Association)

	// OnRawStream fires when the peer opens a stream outside of DCEP.
	OnRawStream(s *Stream)

	// OnDCEPStream fires when the peer opens a stream with a DCEP
	// DATA_CHANNEL_OPEN message, carrying the negotiated label.
	OnDCEPStream(s *Stream, label string, ppid PayloadProtocolIdentifier)
}
