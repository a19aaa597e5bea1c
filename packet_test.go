package sctp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketUnmarshalFailures(t *testing.T) {
	pkt := &packet{}
	assert.Error(t, pkt.unmarshal([]byte{}), "header too small")

	headerOnly := make([]byte, commonHeaderSize)
	assert.Error(t, pkt.unmarshal(headerOnly), "zero checksum must not verify")
}

func TestPacketRoundTripInit(t *testing.T) {
	init := &chunkInit{}
	init.initialTSN = 1234
	init.numOutboundStreams = 1024
	init.numInboundStreams = 1024
	init.initiateTag = 0xABCD1234
	init.advertisedReceiverWindowCredit = 512 * 1024
	setSupportedExtensions(&init.chunkInitCommon)

	out := &packet{
		sourcePort:      5000,
		destinationPort: 5000,
		verificationTag: 0,
		chunks:          []chunk{init},
	}

	raw, err := out.marshal()
	require.NoError(t, err)

	in := &packet{}
	require.NoError(t, in.unmarshal(raw))

	assert.Equal(t, uint16(5000), in.sourcePort)
	assert.Equal(t, uint16(5000), in.destinationPort)
	assert.Equal(t, uint32(0), in.verificationTag)
	require.Len(t, in.chunks, 1)

	parsed, ok := in.chunks[0].(*chunkInit)
	require.True(t, ok)
	assert.Equal(t, uint32(1234), parsed.initialTSN)
	assert.Equal(t, uint32(0xABCD1234), parsed.initiateTag)
	assert.Equal(t, uint32(512*1024), parsed.advertisedReceiverWindowCredit)

	var gotSupported *paramSupportedExtensions
	var gotForward *paramForwardTSNSupported
	for _, p := range parsed.params {
		switch v := p.(type) {
		case *paramSupportedExtensions:
			gotSupported = v
		case *paramForwardTSNSupported:
			gotForward = v
		}
	}
	require.NotNil(t, gotSupported)
	assert.Contains(t, gotSupported.ChunkTypes, ctReconfig)
	assert.Contains(t, gotSupported.ChunkTypes, ctForwardTSN)
	assert.NotNil(t, gotForward)
}

func TestPacketRoundTripDataAndSack(t *testing.T) {
	data := &chunkPayloadData{
		tsn:                  42,
		streamIdentifier:     4,
		streamSequenceNumber: 7,
		payloadType:          PayloadTypeWebRTCString,
		beginningFragment:    true,
		endingFragment:       true,
		userData:             []byte("hello"),
	}
	sack := &chunkSelectiveAck{
		cumulativeTSNAck:               41,
		advertisedReceiverWindowCredit: 1 << 20,
		gapAckBlocks:                   []gapAckBlock{{start: 2, end: 3}},
		duplicateTSN:                   []uint32{40},
	}

	out := &packet{
		sourcePort:      5000,
		destinationPort: 5000,
		verificationTag: 0x0B,
		chunks:          []chunk{data, sack},
	}

	raw, err := out.marshal()
	require.NoError(t, err)

	in := &packet{}
	require.NoError(t, in.unmarshal(raw))
	require.Len(t, in.chunks, 2)

	gotData, ok := in.chunks[0].(*chunkPayloadData)
	require.True(t, ok)
	assert.Equal(t, uint32(42), gotData.tsn)
	assert.Equal(t, uint16(4), gotData.streamIdentifier)
	assert.Equal(t, uint16(7), gotData.streamSequenceNumber)
	assert.Equal(t, PayloadTypeWebRTCString, gotData.payloadType)
	assert.True(t, gotData.beginningFragment)
	assert.True(t, gotData.endingFragment)
	assert.Equal(t, []byte("hello"), gotData.userData)

	gotSack, ok := in.chunks[1].(*chunkSelectiveAck)
	require.True(t, ok)
	assert.Equal(t, uint32(41), gotSack.cumulativeTSNAck)
	assert.Equal(t, []gapAckBlock{{start: 2, end: 3}}, gotSack.gapAckBlocks)
	assert.Equal(t, []uint32{40}, gotSack.duplicateTSN)
}

func TestCheckPacket(t *testing.T) {
	t.Run("zero ports are rejected", func(t *testing.T) {
		assert.ErrorIs(t, checkPacket(&packet{sourcePort: 0, destinationPort: 5000}), ErrPacketSourcePortZero)
		assert.ErrorIs(t, checkPacket(&packet{sourcePort: 5000, destinationPort: 0}), ErrPacketDestinationPortZero)
	})

	t.Run("INIT must be solitary with a zero tag", func(t *testing.T) {
		init := &chunkInit{}
		p := &packet{
			sourcePort:      5000,
			destinationPort: 5000,
			chunks:          []chunk{init, &chunkCookieAck{}},
		}
		assert.ErrorIs(t, checkPacket(p), ErrInitChunkBundled)

		p.chunks = []chunk{init}
		p.verificationTag = 7
		assert.ErrorIs(t, checkPacket(p), ErrInitChunkVerifyTagNotZero)

		p.verificationTag = 0
		assert.NoError(t, checkPacket(p))
	})
}

func TestDCEPRoundTrip(t *testing.T) {
	open := &dcepOpen{
		channelType:          dcepChannelTypePartialReliableRexmitUnordered,
		priority:             256,
		reliabilityParameter: 3,
		label:                []byte("chat"),
		protocol:             []byte(""),
	}
	raw, err := open.marshal()
	require.NoError(t, err)

	parsed := &dcepOpen{}
	require.NoError(t, parsed.unmarshal(raw))
	assert.Equal(t, []byte("chat"), parsed.label)

	unordered, relType, relVal := parsed.reliability()
	assert.True(t, unordered)
	assert.Equal(t, ReliabilityTypeRexmit, relType)
	assert.Equal(t, uint32(3), relVal)

	ackRaw, err := (&dcepAck{}).marshal()
	require.NoError(t, err)
	assert.NoError(t, (&dcepAck{}).unmarshal(ackRaw))
	assert.Error(t, (&dcepOpen{}).unmarshal(ackRaw))
}
