package buffer

// slotQueue is a fixed-capacity FIFO of slot indexes. Capacity equals the
// number of slots in the pool, so a push can never overflow.
type slotQueue struct {
	buf   []int
	head  int
	count int
}

func newSlotQueue(capacity int) *slotQueue {
	return &slotQueue{buf: make([]int, capacity)}
}

func (q *slotQueue) Len() int {
	return q.count
}

func (q *slotQueue) PushBack(idx int) {
	if q.count == len(q.buf) {
		panic("slot queue overflow")
	}
	q.buf[(q.head+q.count)%len(q.buf)] = idx
	q.count++
}

func (q *slotQueue) PopFront() (int, bool) {
	if q.count == 0 {
		return 0, false
	}
	idx := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return idx, true
}
