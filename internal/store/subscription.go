package store

import (
	"log"
	"sync"
)

const subBuffer = 64

// DocSub is a live subscription to a single document. Receive from C until
// it closes; call Unsubscribe on teardown. After Unsubscribe returns, no
// further delivery happens even for responses already in flight.
type DocSub struct {
	C <-chan Doc

	mu     sync.Mutex
	ch     chan Doc
	closed bool
	cancel func()
}

func newDocSub(cancel func()) *DocSub {
	ch := make(chan Doc, subBuffer)
	return &DocSub{C: ch, ch: ch, cancel: cancel}
}

// Unsubscribe stops delivery and releases the watch. Safe to call twice.
func (s *DocSub) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// deliver hands a snapshot to the subscriber. In-flight events racing an
// Unsubscribe are dropped under the same lock that closes the channel.
func (s *DocSub) deliver(d Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- d:
	default:
		log.Printf("Store: doc watch buffer full, dropping snapshot")
	}
}

// QuerySub is a live subscription to an ordered, limited query. Same
// teardown contract as DocSub.
type QuerySub struct {
	C <-chan QuerySnapshot

	mu     sync.Mutex
	ch     chan QuerySnapshot
	closed bool
	cancel func()
	seen   map[string]bool
}

func newQuerySub(cancel func()) *QuerySub {
	ch := make(chan QuerySnapshot, subBuffer)
	return &QuerySub{C: ch, ch: ch, cancel: cancel, seen: make(map[string]bool)}
}

// Unsubscribe stops delivery and releases the watch. Safe to call twice.
func (s *QuerySub) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// deliver computes the Added set against ids this subscription has already
// handed out, then pushes the snapshot unless the sub was cancelled.
func (s *QuerySub) deliver(ids []string, docs []Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	snap := QuerySnapshot{Docs: docs}
	for i, id := range ids {
		if !s.seen[id] {
			s.seen[id] = true
			snap.Added = append(snap.Added, docs[i])
		}
	}
	select {
	case s.ch <- snap:
	default:
		log.Printf("Store: query watch buffer full, dropping snapshot")
	}
}
