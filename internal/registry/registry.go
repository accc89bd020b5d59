package registry

import (
	"sort"
	"sync"

	"github.com/hashplane/asicscan/internal/logging"
	"github.com/hashplane/asicscan/internal/miner"
	"go.uber.org/zap"
)

// DefaultHistoryCapacity bounds the per-device metric history. At the
// default 10 second poll cadence this covers roughly the last 48 minutes;
// at a 5 minute cadence, a full day.
const DefaultHistoryCapacity = 288

// Registry is the concurrent map of known miners keyed by identity.
// All methods are safe for concurrent use; the lock is never held across
// network I/O.
type Registry struct {
	mu         sync.RWMutex
	records    map[string]*Record
	history    map[string]*ring
	historyCap int
}

// New creates an empty registry with the default history capacity
func New() *Registry {
	return NewWithHistoryCapacity(DefaultHistoryCapacity)
}

// NewWithHistoryCapacity creates an empty registry whose per-device history
// keeps at most capacity samples.
func NewWithHistoryCapacity(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Registry{
		records:    make(map[string]*Record),
		history:    make(map[string]*ring),
		historyCap: capacity,
	}
}

// Upsert inserts or replaces the record for its identity. The update wins
// only when its timestamp is strictly newer than the stored one; an
// older-or-equal update is dropped and false is returned. Last writer (by
// snapshot time) wins regardless of arrival order.
func (r *Registry) Upsert(rec *Record) bool {
	key := rec.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.records[key]; ok && !cur.UpdatedAt.Before(rec.UpdatedAt) {
		logging.Debug("Stale update dropped",
			zap.String("identity", key),
			zap.Time("stored", cur.UpdatedAt),
			zap.Time("update", rec.UpdatedAt),
		)
		return false
	}
	r.records[key] = rec.Clone()
	return true
}

// Merge folds an identification snapshot into the registry: the record is
// upserted and, when the upsert wins, a history sample is appended. The
// built record is returned either way so callers can stream it.
func (r *Registry) Merge(snap *miner.Snapshot) *Record {
	rec := NewRecord(snap)
	if r.Upsert(rec) {
		r.AppendHistory(rec.Identity(), SampleOf(snap))
	}
	return rec
}

// Get returns a copy of the record for key, if present
func (r *Registry) Get(key string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of all records ordered by address, ties broken by
// identity, so repeated calls render stably.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr != out[j].Addr {
			return out[i].Addr < out[j].Addr
		}
		return out[i].Identity() < out[j].Identity()
	})
	return out
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear drops every record and its history
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*Record)
	r.history = make(map[string]*ring)
}

// AppendHistory adds a metrics sample to key's bounded history ring
func (r *Registry) AppendHistory(key string, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[key]
	if !ok {
		h = newRing(r.historyCap)
		r.history[key] = h
	}
	h.push(s)
}

// History returns key's samples oldest first. The slice is a copy.
func (r *Registry) History(key string) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.history[key]
	if !ok {
		return nil
	}
	return h.snapshot()
}
