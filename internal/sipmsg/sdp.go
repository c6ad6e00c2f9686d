package sipmsg

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// SDPSummary produces a short, human-readable description of an SDP
// body for structured logging. It never mutates or re-encodes the
// body: the B2BUA forwards the original bytes unchanged regardless of
// whether summarization succeeds (spec.md's media-bypass invariant).
//
// Returns false if body does not parse as a session description; the
// caller should simply omit the summary in that case, not treat it as
// an error.
func SDPSummary(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "origin=%s", desc.Origin.Username)
	for _, media := range desc.MediaDescriptions {
		fmt.Fprintf(&b, " %s/%d:%s", media.MediaName.Media, media.MediaName.Port.Value, strings.Join(media.MediaName.Formats, ","))
	}
	return b.String(), true
}
