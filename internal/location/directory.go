// Package location implements the B2BUA's static location directory:
// a minimal registrar mapping SIP user IDs to reachable transport
// addresses, consulted by both the REGISTER handler and the call
// state machine's B-leg routing step.
package location

import "sync"

// Entry is a single location binding. Field lengths mirror spec.md's
// data model (user_id/password/realm capped at 15 bytes by the
// original wire format this directory is compatible with); the cap is
// documentation only and is not enforced here, since enforcing it
// would reject configuration the original accepted silently.
type Entry struct {
	UserID     string
	Password   string
	IP         string
	Port       uint16
	Realm      string
	Registered bool
}

// Directory is a fixed-population, non-expiring directory of SIP
// users. Entries are created at startup from static configuration and
// mutated only by UpdateBinding (invoked from the REGISTER handler).
type Directory struct {
	mu      sync.RWMutex
	entries []Entry
}

// New builds a Directory pre-populated with seed entries. Registered
// is left as given by the caller — seed entries are not implicitly
// marked registered.
func New(seed []Entry) *Directory {
	entries := make([]Entry, len(seed))
	copy(entries, seed)
	return &Directory{entries: entries}
}

// FindByUserID performs a linear, case-sensitive scan for an entry
// whose UserID matches exactly. Returns the entry and true, or a zero
// Entry and false.
func (d *Directory) FindByUserID(userID string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}

// UpdateBinding sets the IP, port and registered flag for the entry
// identified by userID. Idempotent: calling it repeatedly with the
// same address is a no-op beyond re-setting the same values. Returns
// false if no entry exists for userID (the caller — the REGISTER
// handler — is expected to have already confirmed existence via
// FindByUserID and reply 404 otherwise).
func (d *Directory) UpdateBinding(userID, ip string, port uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries {
		if d.entries[i].UserID == userID {
			d.entries[i].IP = ip
			d.entries[i].Port = port
			d.entries[i].Registered = true
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every entry. It is not part of the wire
// protocol.
func (d *Directory) Snapshot() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}
