// Package calltable owns the fixed-capacity pool of in-flight calls
// the B2BUA state machine operates on. It is the only package that
// mutates Call fields structurally; the state machine mutates
// individual fields through the handles this package hands out.
package calltable

import "sync"

// State is the call's position in the per-call finite-state
// automaton driven by the state machine in package b2bua.
type State int

const (
	// StateIdle is both the initial and terminal state. A freshly
	// allocated slot is is_active=true, StateIdle momentarily before
	// INVITE processing moves it to StateRouting.
	StateIdle State = iota
	StateRouting
	StateRinging
	StateAnswered
	StateConnected
	StateDisconnecting
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRouting:
		return "ROUTING"
	case StateRinging:
		return "RINGING"
	case StateAnswered:
		return "ANSWERED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// LegSide identifies which of the two dialogs a lookup matched.
type LegSide int

const (
	ALeg LegSide = iota
	BLeg
)

func (l LegSide) String() string {
	if l == ALeg {
		return "A_LEG"
	}
	return "B_LEG"
}

// MediaFlags records whether a leg has seen an SDP offer (remote) and
// answer (local) from its peer. Media itself is never inspected for
// content beyond this bookkeeping — the B2BUA bypasses RTP entirely.
type MediaFlags struct {
	LocalMedia  bool
	RemoteMedia bool
}

// LegHeaders caches the canonical header lines for one leg's dialog,
// each including its field name, used verbatim when generating
// responses toward that leg or forwarded requests on that leg.
type LegHeaders struct {
	From string
	Via  string
	CSeq string
	To   string
}

func (h *LegHeaders) reset() { *h = LegHeaders{} }

// Call is one bridged pair of SIP dialogs. All field access beyond
// the structural allocate/release lifecycle must hold Guard.
type Call struct {
	Index    uint32
	IsActive bool
	State    State

	ALegCallID string
	BLegCallID string

	ALegIP   string
	BLegIP   string
	ALegPort uint16
	BLegPort uint16

	ALegHeaders LegHeaders
	BLegHeaders LegHeaders

	ALegContact string
	BLegContact string

	// BLegRequestURI is the Request-URI used for the original B-leg
	// INVITE. It is reused as the target for the CANCEL and failure-ACK
	// the state machine may forge toward B, since neither has a 2xx
	// Contact to target yet.
	BLegRequestURI string

	ALegMedia MediaFlags
	BLegMedia MediaFlags

	Caller string
	Callee string

	// BLegInviteCSeq is the CSeq number the B2BUA used when it
	// originated the B-leg INVITE. It is reused, with a different
	// method token, to acknowledge the transaction (ACK/CANCEL) per
	// spec.md §4.6's sequencing rules, and is the source of truth for
	// Open Question #3 in DESIGN.md (global_cseq does not need
	// per-dialog derivation because this field already pins it).
	BLegInviteCSeq uint32

	// generation increments on every release, so stale handles
	// obtained before a release can detect reuse (spec.md §9's
	// "pointer-returning lookups" design note).
	generation uint64

	guard sync.Mutex
}

// Lock acquires the call's per-entry guard. Callers must Unlock.
func (c *Call) Lock() { c.guard.Lock() }

// Unlock releases the call's per-entry guard.
func (c *Call) Unlock() { c.guard.Unlock() }

// reset zeroes every field except Index, generation and the guard
// mutex itself (which must stay usable across the reset since the
// caller is holding it locked). Called only while holding both the
// table mutex and this call's guard.
func (c *Call) reset() {
	c.IsActive = false
	c.State = StateIdle
	c.ALegCallID = ""
	c.BLegCallID = ""
	c.ALegIP = ""
	c.BLegIP = ""
	c.ALegPort = 0
	c.BLegPort = 0
	c.ALegHeaders.reset()
	c.BLegHeaders.reset()
	c.ALegContact = ""
	c.BLegContact = ""
	c.BLegRequestURI = ""
	c.ALegMedia = MediaFlags{}
	c.BLegMedia = MediaFlags{}
	c.Caller = ""
	c.Callee = ""
	c.BLegInviteCSeq = 0
	c.generation++
}
