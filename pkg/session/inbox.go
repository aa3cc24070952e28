package session

import "sync"

// inbox is an unbounded FIFO of state updates drained by the coordinator goroutine.
// post never blocks, so transport callbacks may fire from inside a coordinator call.
type inbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

// post appends fn and reports false if the inbox no longer accepts work.
func (b *inbox) post(fn func()) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, fn)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

func (b *inbox) drain() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

// close stops accepting work and returns whatever was still queued.
func (b *inbox) close() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	q := b.queue
	b.queue = nil
	return q
}
