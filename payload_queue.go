package sctp

import (
	"fmt"
	"sort"
)

// payloadQueue is the receive-side buffer: DATA chunks that have arrived
// but have not been folded into the cumulative TSN yet, keyed by TSN.
// It also tracks duplicates for the next SACK.
type payloadQueue struct {
	chunkMap map[uint32]*chunkPayloadData
	sorted   []uint32
	dupTSN   []uint32
	nBytes   int
}

func newPayloadQueue() *payloadQueue {
	return &payloadQueue{chunkMap: map[uint32]*chunkPayloadData{}}
}

func (q *payloadQueue) updateSortedKeys() {
	if q.sorted != nil {
		return
	}

	q.sorted = make([]uint32, 0, len(q.chunkMap))
	for tsn := range q.chunkMap {
		q.sorted = append(q.sorted, tsn)
	}

	sort.Slice(q.sorted, func(i, j int) bool {
		return sna32LT(q.sorted[i], q.sorted[j])
	})
}

// canPush reports whether a chunk with the given TSN may enter the queue.
// Chunks at or below the cumulative TSN, and duplicates, are recorded for
// SACK duplicate reporting instead.
func (q *payloadQueue) canPush(p *chunkPayloadData, peerLastTSN uint32) bool {
	if _, ok := q.chunkMap[p.tsn]; ok || sna32LTE(p.tsn, peerLastTSN) {
		q.dupTSN = append(q.dupTSN, p.tsn)
		return false
	}
	return true
}

func (q *payloadQueue) pushNoCheck(p *chunkPayloadData) {
	q.chunkMap[p.tsn] = p
	q.nBytes += len(p.userData)
	q.sorted = nil
}

// pop removes the chunk with the given TSN if it is present. Used while
// advancing peerLastTSN over contiguously received chunks.
func (q *payloadQueue) pop(tsn uint32) (*chunkPayloadData, bool) {
	if c, ok := q.chunkMap[tsn]; ok {
		delete(q.chunkMap, tsn)
		q.nBytes -= len(c.userData)
		q.sorted = nil
		return c, true
	}
	return nil, false
}

func (q *payloadQueue) get(tsn uint32) (*chunkPayloadData, bool) {
	c, ok := q.chunkMap[tsn]
	return c, ok
}

func (q *payloadQueue) popDuplicates() []uint32 {
	dups := q.dupTSN
	q.dupTSN = []uint32{}
	return dups
}

// getGapAckBlocks expresses the queued TSNs as ranges relative to the
// cumulative ack (RFC 4960 section 3.3.4).
func (q *payloadQueue) getGapAckBlocks(peerLastTSN uint32) (gapAckBlocks []gapAckBlock) {
	var b gapAckBlock

	if len(q.chunkMap) == 0 {
		return []gapAckBlock{}
	}

	q.updateSortedKeys()

	for i, tsn := range q.sorted {
		diff := uint16(tsn - peerLastTSN)
		if i == 0 {
			b.start = diff
			b.end = b.start
			continue
		}
		if b.end+1 == diff {
			b.end++
		} else {
			gapAckBlocks = append(gapAckBlocks, gapAckBlock{
				start: b.start,
				end:   b.end,
			})
			b.start = diff
			b.end = diff
		}
	}

	gapAckBlocks = append(gapAckBlocks, gapAckBlock{
		start: b.start,
		end:   b.end,
	})

	return gapAckBlocks
}

func (q *payloadQueue) getGapAckBlocksString(peerLastTSN uint32) string {
	gapAckBlocks := q.getGapAckBlocks(peerLastTSN)
	str := fmt.Sprintf("cumTSN=%d", peerLastTSN)
	for _, b := range gapAckBlocks {
		str += fmt.Sprintf(",%d-%d", b.start, b.end)
	}
	return str
}

// getLastTSNReceived returns the highest TSN sitting in the queue.
func (q *payloadQueue) getLastTSNReceived() (uint32, bool) {
	q.updateSortedKeys()

	qlen := len(q.sorted)
	if qlen == 0 {
		return 0, false
	}
	return q.sorted[qlen-1], true
}

func (q *payloadQueue) size() int {
	return len(q.chunkMap)
}

func (q *payloadQueue) getNumBytes() int {
	return q.nBytes
}
