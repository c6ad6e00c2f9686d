package sipbuilder

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// branchCounter guarantees branch uniqueness across sends that land
// in the same wall-clock nanosecond, which time-of-day alone cannot
// under a 5-worker pool (DESIGN.md, Open Question #4).
var branchCounter uint64

// NewBranch generates a single topmost Via branch of the form
// "z9hG4bK<hex>" for a self-originated B-leg request (INVITE, CANCEL,
// BYE, ACK), regenerated fresh for each one per spec.md §4.4.
func NewBranch() string {
	n := atomic.AddUint64(&branchCounter, 1)
	now := uint64(time.Now().UnixNano())
	return fmt.Sprintf("z9hG4bK%016x", now^n)
}

// RewriteReceivedVia appends ";rport=<port>;received=<ip>" to an
// inbound A-leg Via if ";rport" is present, else appends
// ";received=<ip>" only, per spec.md §4.4. via is the full cached
// line including the "Via: " field name; the result is also a full
// line suitable for caching verbatim.
func RewriteReceivedVia(via, sourceIP string, sourcePort uint16) string {
	if strings.Contains(via, ";rport") {
		return fmt.Sprintf("%s;rport=%d;received=%s", via, sourcePort, sourceIP)
	}
	return fmt.Sprintf("%s;received=%s", via, sourceIP)
}
