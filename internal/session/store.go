package session

import (
	"sync"
	"time"
)

// Store keeps conversation records in memory, one per identity.
// Operations on the same identity are serialized with a per-identity
// mutex; different identities never block each other.
type Store struct {
	mu      sync.Mutex // guards the two maps only
	records map[string]*Record
	locks   map[string]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the identity's mutex, creating it on first use.
// Identity locks are never removed; the set of users is small and
// bounded by the allow-list.
func (s *Store) lockFor(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	return l
}

// Create installs a fresh record for the identity, replacing any
// existing one. Replacement is the implicit-cancel path: a previous
// in-flight run token dies with the old record. A non-nil init runs on
// the new record before the identity lock is released, so no other
// event can observe the record half-initialized.
func (s *Store) Create(identity string, w Workflow, admin bool, init func(r *Record)) {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	r := &Record{
		Identity:     identity,
		Workflow:     w,
		Step:         -1,
		Fields:       make(map[string]string),
		Images:       make(map[string][]byte),
		Admin:        admin,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.mu.Lock()
	s.records[identity] = r
	s.mu.Unlock()
	if init != nil {
		init(r)
	}
}

// Update runs fn on the identity's record under its lock. When fn
// returns nil the record's activity clock is refreshed and the nudge
// state cleared; on error the record is considered untouched.
// Returns ErrNoSession if the identity has no record.
func (s *Store) Update(identity string, fn func(r *Record) error) error {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	r, ok := s.records[identity]
	s.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	if err := fn(r); err != nil {
		return err
	}
	r.LastActivity = time.Now()
	r.LastNudge = time.Time{}
	r.MissedSteps = 0
	return nil
}

// Sweep runs fn on the identity's record under its lock without
// refreshing the activity clock. fn returning true deletes the record.
// Used by the timeout supervisor. Returns whether a delete happened.
func (s *Store) Sweep(identity string, fn func(r *Record) bool) bool {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	r, ok := s.records[identity]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if !fn(r) {
		return false
	}
	s.mu.Lock()
	delete(s.records, identity)
	s.mu.Unlock()
	return true
}

// Delete removes the identity's record. Returns whether one existed.
func (s *Store) Delete(identity string) bool {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[identity]; !ok {
		return false
	}
	delete(s.records, identity)
	return true
}

// CompleteRun deletes the record only if it still carries the given
// run token. A false return means the session was cancelled or
// replaced while the request was in flight, and its result must be
// discarded.
func (s *Store) CompleteRun(identity, token string) bool {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identity]
	if !ok || !r.Processing || r.RunToken != token {
		return false
	}
	delete(s.records, identity)
	return true
}

// Snapshot returns a shallow copy of the identity's record, for
// inspection without holding the lock.
func (s *Store) Snapshot(identity string) (Record, bool) {
	l := s.lockFor(identity)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identity]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Identities lists identities that currently have a record.
func (s *Store) Identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// Len reports the number of active records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
