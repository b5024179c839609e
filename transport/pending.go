package transport

import (
	"sync"

	"github.com/m4xw311/agentwire/protocol"
)

// delivery is what a waiting request receives: either an inbound message or
// the error that aborted the wait (connection loss).
type delivery struct {
	msg *protocol.Message
	err error
}

// pendingEntry is one outstanding request. The channel buffer smooths chunk
// bursts; done is closed when the waiter gives up so a delivery never blocks
// on an abandoned entry.
type pendingEntry struct {
	ch     chan delivery
	done   chan struct{}
	closed bool
}

// pendingMap correlates outbound generation requests with inbound responses
// and stream chunks, keyed by the request id.
type pendingMap struct {
	mu sync.Mutex
	m  map[string]*pendingEntry
}

func newPendingMap() *pendingMap {
	return &pendingMap{m: make(map[string]*pendingEntry)}
}

// add registers a request id and returns its entry. The waiter reads from
// entry.ch and must call remove when done.
func (p *pendingMap) add(requestID string) *pendingEntry {
	e := &pendingEntry{
		ch:   make(chan delivery, 16),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	p.m[requestID] = e
	p.mu.Unlock()
	return e
}

// remove drops the map entry and marks the waiter gone, releasing any
// delivery blocked on it. Safe to call after deliver already removed the
// entry, and safe to call twice.
func (p *pendingMap) remove(requestID string, e *pendingEntry) {
	p.mu.Lock()
	delete(p.m, requestID)
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	p.mu.Unlock()
}

// deliver routes a response or chunk to its waiting request. The send blocks
// when the waiter lags, which backpressures the connection's dispatch loop
// rather than losing chunks; a waiter that has given up unblocks it via
// done. Terminal messages (unary responses, errors, final chunks) also
// remove the entry so later duplicates are treated as unmatched. Returns
// false when no request matches.
func (p *pendingMap) deliver(msg *protocol.Message) bool {
	terminal := msg.Type == protocol.TypeGenerateContentResponse ||
		msg.IsComplete || msg.Error != ""

	p.mu.Lock()
	e, ok := p.m[msg.RequestID]
	if ok && terminal {
		delete(p.m, msg.RequestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case e.ch <- delivery{msg: msg}:
	case <-e.done:
	}
	return true
}

// failAll rejects every in-flight request with the given error, clearing the
// map. Used on disconnect; the rejection must reach each waiter immediately
// rather than leaving it to time out.
func (p *pendingMap) failAll(err error) {
	p.mu.Lock()
	entries := p.m
	p.m = make(map[string]*pendingEntry)
	p.mu.Unlock()

	for _, e := range entries {
		select {
		case e.ch <- delivery{err: err}:
		case <-e.done:
		}
	}
}
