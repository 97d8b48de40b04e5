package state

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Store is the single authoritative State holder. Subscribers are called
// synchronously after each dispatch, outside the store lock.
type Store struct {
	mu    sync.RWMutex
	state State

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(prev, next State)

	log *logrus.Entry
}

// NewStore creates a store seeded with initial
func NewStore(initial State) *Store {
	return &Store{
		state: initial,
		subs:  make(map[int]func(prev, next State)),
		log:   logrus.WithField("component", "state-store"),
	}
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch reduces a into the store and notifies subscribers
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	s.mu.Unlock()

	s.log.Debugf("Dispatched %T", a)

	s.subMu.Lock()
	subs := make([]func(prev, next State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
	return next
}

// Subscribe registers fn and returns a function that removes it
func (s *Store) Subscribe(fn func(prev, next State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}
