// Package sipmsg implements the tolerant SIP text parser used by the
// B2BUA core. It has no knowledge of transactions, dialogs, or
// transport; it only turns a raw UDP payload into the handful of
// fields the call-control state machine needs.
package sipmsg

import (
	"fmt"
	"strings"
)

// Kind distinguishes a parsed message as a request or a response.
type Kind int

const (
	// KindRequest is a SIP request (METHOD SP URI SP SIP/2.0).
	KindRequest Kind = iota
	// KindResponse is a SIP response (SIP/2.0 SP CODE SP reason).
	KindResponse
)

// Header names recognized by the parser. Matching uses the literal
// "Name: " prefix (trailing space required), per spec.
const (
	HeaderVia           = "Via"
	HeaderFrom          = "From"
	HeaderTo            = "To"
	HeaderCallID        = "Call-ID"
	HeaderCSeq          = "CSeq"
	HeaderContact       = "Contact"
	HeaderMaxForwards   = "Max-Forwards"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
)

// sdpContentType is the exact substring the parser looks for in a
// Content-Type header value to classify a body as SDP.
const sdpContentType = "application/sdp"

// DefaultMaxForwards is used when a request carries no Max-Forwards
// header at all.
const DefaultMaxForwards = 70

// Message is the parsed view of a single SIP datagram.
type Message struct {
	Kind Kind

	// Method is set when Kind == KindRequest (e.g. "INVITE").
	Method string
	// StatusCode is set when Kind == KindResponse.
	StatusCode int
	// ReasonPhrase is set when Kind == KindResponse.
	ReasonPhrase string
	// RequestURI is set when Kind == KindRequest.
	RequestURI string

	// Headers holds the raw header line text (including the field
	// name, excluding CRLF) for each header spec.md names, keyed by
	// canonical name. Missing headers are the empty string.
	Headers map[string]string

	// HasSDP is true iff the Content-Type header value contains the
	// exact substring "application/sdp".
	HasSDP bool

	// CSeqNumber is parsed by skipping leading non-digits then
	// consuming digits from the CSeq header value.
	CSeqNumber uint32
	// CSeqMethod is the method token following the CSeq number.
	CSeqMethod string

	// MaxForwards is the parsed Max-Forwards value, or
	// DefaultMaxForwards if the header is absent or unparsable.
	MaxForwards int

	// Body is the payload bytes following the header block's blank
	// line, or nil if there was none.
	Body []byte
}

// IsRequest reports whether the message is a SIP request.
func (m *Message) IsRequest() bool { return m.Kind == KindRequest }

// IsResponse reports whether the message is a SIP response.
func (m *Message) IsResponse() bool { return m.Kind == KindResponse }

// Header returns the raw cached line for name, or "" if absent.
func (m *Message) Header(name string) string {
	return m.Headers[name]
}

// CallID returns the Call-ID header's value with the field name
// stripped, or "" if the header is absent.
func (m *Message) CallID() string {
	return headerValue(m.Headers[HeaderCallID], HeaderCallID)
}

// headerValue strips the "Name: " prefix from a cached raw line.
func headerValue(line, name string) string {
	prefix := name + ": "
	if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
		return line[len(prefix):]
	}
	return line
}

// ExtractUserPart takes the text between "sip:" and "@" in a raw
// header line (e.g. a From or To header's full cached text), per
// spec.md §4.5 step 1. Returns "" if the line doesn't contain both
// markers.
func ExtractUserPart(header string) string {
	idx := strings.Index(header, "sip:")
	if idx < 0 {
		return ""
	}
	rest := header[idx+len("sip:"):]
	at := strings.Index(rest, "@")
	if at < 0 {
		return ""
	}
	return rest[:at]
}

// String is used for log messages and test failure output.
func (m *Message) String() string {
	if m.IsRequest() {
		return fmt.Sprintf("%s %s", m.Method, m.RequestURI)
	}
	return fmt.Sprintf("%d %s", m.StatusCode, m.ReasonPhrase)
}
