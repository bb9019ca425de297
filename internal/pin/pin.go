// Package pin tracks snapshots that in-flight readers depend on.
//
// A reader pins a snapshot before using it and releases the pin when done.
// A retention pass condemns a snapshot before deleting its manifest. Pin and
// Condemn take the same lock, so for any snapshot exactly one of them wins:
// a pinned snapshot cannot be condemned and a condemned snapshot cannot be
// pinned. Readers that lose get ErrCondemned and treat the snapshot as gone.
//
// The registry only sees readers in this process.
package pin

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrCondemned is returned by Pin when the snapshot is being deleted.
	ErrCondemned = errors.New("pin: snapshot is being reclaimed")

	// ErrTooManyPins is returned by Pin when the registry is full.
	ErrTooManyPins = errors.New("pin: too many pinned snapshots")
)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	pins      map[uuid.UUID]int
	condemned map[uuid.UUID]struct{}
	maxPinned int
	active    int
}

// NewRegistry creates a registry. maxPinned bounds the number of distinct
// pinned snapshots; zero means unbounded.
func NewRegistry(maxPinned int) *Registry {
	return &Registry{
		pins:      make(map[uuid.UUID]int),
		condemned: make(map[uuid.UUID]struct{}),
		maxPinned: maxPinned,
	}
}

// Pin registers a reader of snapshot id. The returned release function is
// idempotent.
func (r *Registry) Pin(id uuid.UUID) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.condemned[id]; ok {
		return nil, ErrCondemned
	}
	if r.pins[id] == 0 && r.maxPinned > 0 && len(r.pins) >= r.maxPinned {
		return nil, ErrTooManyPins
	}
	r.pins[id]++
	r.active++

	var once sync.Once
	return func() {
		once.Do(func() { r.unpin(id) })
	}, nil
}

func (r *Registry) unpin(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	if n := r.pins[id]; n <= 1 {
		delete(r.pins, id)
	} else {
		r.pins[id] = n - 1
	}
}

// Condemn marks id for deletion. It returns false, leaving id untouched,
// when a reader holds a pin on it.
func (r *Registry) Condemn(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pins[id] > 0 {
		return false
	}
	r.condemned[id] = struct{}{}
	return true
}

// Absolve clears a condemnation so the snapshot can be pinned again.
func (r *Registry) Absolve(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.condemned, id)
}

// Pinned reports whether any reader holds id.
func (r *Registry) Pinned(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pins[id] > 0
}

// Condemned reports whether id is marked for deletion.
func (r *Registry) Condemned(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.condemned[id]
	return ok
}

// Active returns the number of outstanding pins.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
