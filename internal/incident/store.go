package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/opsguard/opsguard/internal/store"
)

// Collection is the single durable namespace holding all incident records.
const Collection = "active_incidents"

// ErrNotFound is returned when an operation references an unknown incident id.
var ErrNotFound = errors.New("incident not found")

// Store wraps the generic record store with typed incident access and
// serializes writes per incident id. The per-key lock guards the
// read-modify-write cycle against duplicate event delivery: under normal
// operation stages run one at a time per incident, but a redelivered event can
// put two handlers for the same id in flight at once.
type Store struct {
	kv store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(kv store.Store) *Store {
	return &Store{kv: kv, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Load returns the incident with the given id.
func (s *Store) Load(ctx context.Context, id string) (Incident, bool, error) {
	var inc Incident
	found, err := s.kv.Get(ctx, Collection, id, &inc)
	return inc, found, err
}

// Create writes a brand-new incident record. An id collision is an error, not
// an overwrite: a record must never be silently replaced by a later alert.
func (s *Store) Create(ctx context.Context, inc Incident) error {
	l := s.keyLock(inc.ID)
	l.Lock()
	defer l.Unlock()
	var existing Incident
	found, err := s.kv.Get(ctx, Collection, inc.ID, &existing)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("incident %s already exists", inc.ID)
	}
	return s.kv.Set(ctx, Collection, inc.ID, inc)
}

// Update performs a locked read-modify-write on one incident. fn mutates the
// loaded record in place; the whole record is then written back. Returns
// ErrNotFound when the id has no record. The lock is never held across
// external calls — callers do slow work outside Update.
func (s *Store) Update(ctx context.Context, id string, fn func(*Incident) error) (Incident, error) {
	l := s.keyLock(id)
	l.Lock()
	defer l.Unlock()

	var inc Incident
	found, err := s.kv.Get(ctx, Collection, id, &inc)
	if err != nil {
		return Incident{}, err
	}
	if !found {
		return Incident{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(&inc); err != nil {
		return Incident{}, err
	}
	if err := s.kv.Set(ctx, Collection, id, inc); err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// List returns all incident records.
func (s *Store) List(ctx context.Context) ([]Incident, error) {
	raw, err := s.kv.GetAll(ctx, Collection)
	if err != nil {
		return nil, err
	}
	out := make([]Incident, 0, len(raw))
	for id, data := range raw {
		var inc Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return nil, fmt.Errorf("decode incident %s: %w", id, err)
		}
		out = append(out, inc)
	}
	return out, nil
}

// HasOpen reports whether any incident is in a non-terminal status. The
// scheduled scan uses this to avoid piling new incidents onto an open one.
func (s *Store) HasOpen(ctx context.Context) (bool, error) {
	incidents, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, inc := range incidents {
		if !inc.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}
