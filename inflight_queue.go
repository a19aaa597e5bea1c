package sctp

import (
	"fmt"
	"sort"
)

// inflightQueue holds DATA chunks that have been transmitted and are
// awaiting acknowledgement, keyed by TSN.
type inflightQueue struct {
	chunkMap map[uint32]*chunkPayloadData
	sorted   []uint32
	nBytes   int
}

func newInflightQueue() *inflightQueue {
	return &inflightQueue{chunkMap: map[uint32]*chunkPayloadData{}}
}

func (q *inflightQueue) updateSortedKeys() {
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

func (q *inflightQueue) canPush(p *chunkPayloadData) bool {
	_, ok := q.chunkMap[p.tsn]
	return !ok
}

func (q *inflightQueue) pushNoCheck(p *chunkPayloadData) {
	q.chunkMap[p.tsn] = p
	q.nBytes += len(p.userData)
	q.sorted = nil
}

// pop removes the chunk with the given TSN, which must be the oldest one
// still in the queue.
func (q *inflightQueue) pop(tsn uint32) (*chunkPayloadData, bool) {
	q.updateSortedKeys()

	if len(q.sorted) == 0 || q.sorted[0] != tsn {
		return nil, false
	}
	q.sorted = q.sorted[1:]
	c, ok := q.chunkMap[tsn]
	if !ok {
		return nil, false
	}
	delete(q.chunkMap, tsn)
	q.nBytes -= len(c.userData)
	return c, true
}

func (q *inflightQueue) get(tsn uint32) (*chunkPayloadData, bool) {
	c, ok := q.chunkMap[tsn]
	return c, ok
}

// markAsAcked marks the chunk acked and releases its payload bytes; the
// acked chunk stays in the map so the TSN sequence remains contiguous.
func (q *inflightQueue) markAsAcked(tsn uint32) int {
	c, ok := q.chunkMap[tsn]
	if !ok {
		return 0
	}
	c.acked = true
	c.retransmit = false
	nBytes := len(c.userData)
	q.nBytes -= nBytes
	c.userData = []byte{}
	return nBytes
}

func (q *inflightQueue) getOldestTSN() (uint32, bool) {
	q.updateSortedKeys()

	if len(q.sorted) == 0 {
		return 0, false
	}
	return q.sorted[0], true
}

func (q *inflightQueue) markAllToRetrasmit() {
	for _, c := range q.chunkMap {
		if c.acked || c.isAbandoned() {
			continue
		}
		c.retransmit = true
	}
}

func (q *inflightQueue) size() int {
	return len(q.chunkMap)
}

func (q *inflightQueue) getNumBytes() int {
	return q.nBytes
}

func (q *inflightQueue) String() string {
	return fmt.Sprintf("inflight: size=%d bytes=%d", q.size(), q.nBytes)
}
