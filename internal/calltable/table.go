package calltable

import (
	"errors"
	"fmt"
	"sync"
)

// Capacity is the fixed pool size, N=32 per spec.md §3.
const Capacity = 32

// ErrCapacityExhausted is returned by Allocate when every slot is
// active. Callers (the INVITE path) reply 500 to the A-leg.
var ErrCapacityExhausted = errors.New("calltable: capacity exhausted")

// ErrStaleHandle is returned by a Handle accessor once the slot it
// names has been released and possibly reused since the handle was
// obtained.
var ErrStaleHandle = errors.New("calltable: stale handle")

// Table is the fixed-capacity pool of call slots described in
// spec.md §3/§4.3. One mutex guards structural operations (allocate,
// release, the scan in FindByDialogID); each Call additionally has its
// own guard for field-level updates once referenced, acquired via
// Handle.Access.
type Table struct {
	mu    sync.Mutex
	slots [Capacity]Call
	size  int
}

// NewTable builds an empty table with every slot pre-indexed.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].Index = uint32(i)
	}
	return t
}

// Handle is an opaque, index-plus-generation reference to a call
// slot. It outlives any single lock acquisition, so callers can hold
// onto a Handle across a release and safely fail instead of touching
// a slot some other goroutine has since reused (spec.md §9's
// "pointer-returning lookups" design note).
type Handle struct {
	table      *Table
	index      uint32
	generation uint64
}

// Allocate finds the first inactive slot, activates it, and returns a
// Handle plus the exclusive right to initialize it. Returns
// ErrCapacityExhausted when every slot is active (Testable Property 3).
func (t *Table) Allocate() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size >= Capacity {
		return Handle{}, ErrCapacityExhausted
	}
	for i := range t.slots {
		if !t.slots[i].IsActive {
			t.slots[i].IsActive = true
			t.slots[i].State = StateIdle
			t.size++
			return Handle{table: t, index: uint32(i), generation: t.slots[i].generation}, nil
		}
	}
	return Handle{}, ErrCapacityExhausted
}

// FindByDialogID scans active slots for one whose ALegCallID or
// BLegCallID matches id, A-leg first. Returns the matching Handle and
// which leg matched, or ok=false.
func (t *Table) FindByDialogID(id string) (handle Handle, side LegSide, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		s.Lock()
		active, aID, gen := s.IsActive, s.ALegCallID, s.generation
		s.Unlock()
		if active && aID == id {
			return Handle{table: t, index: s.Index, generation: gen}, ALeg, true
		}
	}
	for i := range t.slots {
		s := &t.slots[i]
		s.Lock()
		active, bID, gen := s.IsActive, s.BLegCallID, s.generation
		s.Unlock()
		if active && bID == id {
			return Handle{table: t, index: s.Index, generation: gen}, BLeg, true
		}
	}
	return Handle{}, 0, false
}

// Release resets the call to {is_active=false, state=IDLE} with every
// field zeroed and decrements the active count. Safe to call more
// than once for the same handle; the second call is a no-op.
func (t *Table) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &t.slots[h.index]
	c.Lock()
	defer c.Unlock()

	if c.generation != h.generation || !c.IsActive {
		return
	}
	c.reset()
	t.size--
}

// Size returns the current count of active calls.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Access runs fn with the call locked, after verifying the handle is
// still current. Returns ErrStaleHandle if the slot was released (and
// possibly reallocated) since the handle was obtained.
func (h Handle) Access(fn func(*Call)) error {
	c := &h.table.slots[h.index]
	c.Lock()
	defer c.Unlock()

	if c.generation != h.generation || !c.IsActive {
		return fmt.Errorf("%w: index %d", ErrStaleHandle, h.index)
	}
	fn(c)
	return nil
}

// Index returns the slot index this handle names, for logging.
func (h Handle) Index() uint32 { return h.index }
