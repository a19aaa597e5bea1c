package sctp

// controlQueue is a FIFO of fully-formed control packets waiting for the
// gather loop to serialize and send them.
type controlQueue struct {
	queue []*packet
}

func newControlQueue() *controlQueue {
	return &controlQueue{}
}

func (q *controlQueue) push(c *packet) {
	q.queue = append(q.queue, c)
}

func (q *controlQueue) pushAll(packets []*packet) {
	q.queue = append(q.queue, packets...)
}

func (q *controlQueue) popAll() []*packet {
	packets := q.queue
	q.queue = nil
	return packets
}

func (q *controlQueue) size() int {
	return len(q.queue)
}
