// SPDX-License-Identifier: MIT
package scope

import "sync"

// mailbox is a single-slot, latest-wins hand-off from the acquisition
// goroutine to the dispatcher. Put never blocks.
type mailbox struct {
	mu     sync.Mutex
	frame  Frame
	full   bool
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// put stores f, reporting whether an undelivered frame was replaced.
func (m *mailbox) put(f Frame) (replaced bool) {
	m.mu.Lock()
	replaced = m.full
	m.frame = f
	m.full = true
	m.mu.Unlock()
	m.notify()
	return replaced
}

// take removes the pending frame. ok is false when the slot is empty; closed
// is true once close was called and the slot has been drained.
func (m *mailbox) take() (f Frame, ok, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		f = m.frame
		m.frame = Frame{}
		m.full = false
		return f, true, false
	}
	return Frame{}, false, m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
