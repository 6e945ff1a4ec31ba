package proc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/proc"
)

var _ = Describe("Queue", func() {
	var q *proc.Queue

	BeforeEach(func() {
		q = &proc.Queue{}
	})

	It("should accept exactly its capacity", func() {
		for i := 0; i < proc.QueueCapacity; i++ {
			Expect(q.Push(proc.Message{Sender: 1, Payload: uint32(i)})).To(Succeed())
		}
		Expect(q.Len()).To(Equal(q.Cap()))
		Expect(q.Push(proc.Message{})).To(MatchError(proc.ErrQueueFull))
	})

	It("should pop in first-in first-out order", func() {
		for i := 0; i < 3; i++ {
			Expect(q.Push(proc.Message{Sender: proc.ID(i), Payload: uint32(i * 10)})).To(Succeed())
		}
		for i := 0; i < 3; i++ {
			m, err := q.Pop()
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(proc.Message{Sender: proc.ID(i), Payload: uint32(i * 10)}))
		}
	})

	It("should fail to pop when empty", func() {
		_, err := q.Pop()
		Expect(err).To(MatchError(proc.ErrQueueEmpty))
	})

	It("should keep order across the ring boundary", func() {
		for round := 0; round < 3; round++ {
			for i := 0; i < proc.QueueCapacity-1; i++ {
				Expect(q.Push(proc.Message{Payload: uint32(round*100 + i)})).To(Succeed())
			}
			for i := 0; i < proc.QueueCapacity-1; i++ {
				m, err := q.Pop()
				Expect(err).NotTo(HaveOccurred())
				Expect(m.Payload).To(Equal(uint32(round*100 + i)))
			}
		}
		Expect(q.Len()).To(BeZero())
	})

	It("should empty on reset", func() {
		Expect(q.Push(proc.Message{})).To(Succeed())
		q.Reset()
		Expect(q.Len()).To(BeZero())
	})
})
