package proc

// QueueCapacity is the number of messages a process can hold.
const QueueCapacity = 16

// Message is one inter-process signal.
type Message struct {
	Sender  ID
	Payload uint32
}

// Queue is a fixed-capacity FIFO ring. The zero value is an empty queue.
type Queue struct {
	buf   [QueueCapacity]Message
	head  int
	count int
}

// Push appends m, or fails with ErrQueueFull.
func (q *Queue) Push(m Message) error {
	if q.count == len(q.buf) {
		return ErrQueueFull
	}
	q.buf[(q.head+q.count)%len(q.buf)] = m
	q.count++
	return nil
}

// Pop removes the oldest message, or fails with ErrQueueEmpty.
func (q *Queue) Pop() (Message, error) {
	if q.count == 0 {
		return Message{}, ErrQueueEmpty
	}
	m := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return m, nil
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Reset empties the queue.
func (q *Queue) Reset() {
	*q = Queue{}
}
