// Package usage tracks per-client daily export consumption.
//
// Counts are scoped to a usage window, a UTC calendar day identified by its
// dayKey ("YYYY-MM-DD"). A record read under a stale dayKey is reset to zero
// before any comparison or increment; this reset-on-read is the only rollover
// mechanism, there is no background sweep.
package usage

import (
	"sync"
	"time"
)

// dayKeyLayout is the Go time layout for a usage window key.
const dayKeyLayout = "2006-01-02"

// Record is the export count for one client within one usage window.
type Record struct {
	DayKey string
	Count  int
}

// Store abstracts record storage. The in-memory implementation is the only
// one used in a single-instance deployment; a multi-instance deployment can
// back this with a shared external store without changing call sites.
//
// Implementations do not need to provide compound atomicity: the Ledger
// serializes every read-modify-write cycle itself.
type Store interface {
	Get(clientID string) (Record, bool)
	Put(clientID string, rec Record)
}

// memoryStore is a process-local Store. Records live for the process
// lifetime and are never deleted; an accepted staleness tradeoff.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) Get(clientID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[clientID]
	return rec, ok
}

func (s *memoryStore) Put(clientID string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[clientID] = rec
}

// Ledger owns the usage records and answers quota questions. It is safe for
// concurrent use.
type Ledger struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithClock replaces the time source. Used by tests to cross day boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger backed by an in-memory store.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		store: newMemoryStore(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayKey returns the key of the current usage window (UTC calendar date).
func (l *Ledger) DayKey() string {
	return l.now().UTC().Format(dayKeyLayout)
}

// GetOrInit returns the record for clientID in the current window. A missing
// record, or one belonging to a past window, is replaced by a fresh record
// with a zero count before it is returned.
func (l *Ledger) GetOrInit(clientID string) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrInitLocked(clientID)
}

func (l *Ledger) getOrInitLocked(clientID string) Record {
	dayKey := l.now().UTC().Format(dayKeyLayout)
	rec, ok := l.store.Get(clientID)
	if !ok || rec.DayKey != dayKey {
		rec = Record{DayKey: dayKey, Count: 0}
		l.store.Put(clientID, rec)
	}
	return rec
}

// RecordExport increments the current-window count for clientID by one.
// Callers must invoke this only after a render has successfully produced an
// artifact; quota is never pre-committed.
func (l *Ledger) RecordExport(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.getOrInitLocked(clientID)
	rec.Count++
	l.store.Put(clientID, rec)
}

// Remaining reports how many exports clientID has left out of maxExports in
// the current window. Never negative.
func (l *Ledger) Remaining(clientID string, maxExports int) int {
	rec := l.GetOrInit(clientID)
	if remaining := maxExports - rec.Count; remaining > 0 {
		return remaining
	}
	return 0
}
