package shard

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Submission Queue
// --------------------------------------------------------------------------

// qnode is a single element of the submission queue's linked list.
type qnode[T any] struct {
	value T
	next  atomic.Pointer[qnode[T]]
}

// submitQueue is the lock-free multi-producer single-consumer queue feeding a
// shard's execution stream. Any number of goroutines may Push concurrently;
// exactly one consumer (the shard goroutine) reads from Recv.
//
// Ordering note: under concurrent pushes the queue orders items by which
// producer completed its push first, not by which started first. That is
// sufficient here: cross-transaction ordering is established by the lock
// table, not by queue position.
type submitQueue[T any] struct {
	head     atomic.Pointer[qnode[T]]
	tail     atomic.Pointer[qnode[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// newSubmitQueue creates the queue and starts its internal consumer, which
// moves items from the linked list onto the Recv channel.
func newSubmitQueue[T any]() *submitQueue[T] {
	sentinel := &qnode[T]{}

	q := &submitQueue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends an item. It returns false once the queue is closed.
//
// Thread-safety: safe for concurrent use by any number of producers.
func (q *submitQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &qnode[T]{value: value}

	var backoff uint8
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// Appended; the tail swing may be helped along by another
				// producer, so its failure is fine.
				q.tail.CompareAndSwap(tailNode, newNode)

				q.cond.Signal()
				return true
			}
		} else {
			// another producer appended but has not swung the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential spin-then-yield backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list to the output channel.
func (q *submitQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	var zero T
	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = zero
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the consumer side of the queue. The channel is closed after
// Close once every remaining item was delivered.
func (q *submitQueue[T]) Recv() <-chan T {
	return q.out
}

// Close rejects further pushes. Items already queued are still delivered.
func (q *submitQueue[T]) Close() {
	q.closed.Store(true)
	q.cond.Signal()
}
