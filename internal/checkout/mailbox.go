package checkout

import "sync"

// mailbox is an unbounded FIFO drained by the machine's event loop.
// push never blocks, so gateway goroutines and the poller observer can post freely.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (mb *mailbox) push(msg message) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()

	select {
	case mb.ready <- struct{}{}:
	default:
	}
	return true
}

func (mb *mailbox) drain() []message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	msgs := mb.queue
	mb.queue = nil
	return msgs
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	mb.queue = nil
}
