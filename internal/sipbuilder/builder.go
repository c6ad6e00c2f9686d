// Package sipbuilder constructs outbound SIP payloads from leg-cached
// header fragments, per spec.md §4.4. It never re-parses anything; it
// only splices cached strings and new Via/CSeq/Contact lines into a
// wire-ready byte slice terminated by "\r\n\r\n" plus an optional body.
package sipbuilder

import (
	"fmt"
	"strings"

	"github.com/tinysip/b2bua/internal/calltable"
)

// UserAgent is the literal value the B2BUA always encodes, per
// spec.md §6.
const UserAgent = "TinySIP"

// Builder knows the B2BUA's own advertised address, used to build its
// own Contact header on every forwarded or self-originated message.
type Builder struct {
	ServerIP   string
	ServerPort uint16
}

// New returns a Builder advertising the given address.
func New(serverIP string, serverPort uint16) *Builder {
	return &Builder{ServerIP: serverIP, ServerPort: serverPort}
}

// OwnContactURI returns "sip:TinySIP@<server-ip>:<server-port>", the
// URI (no angle brackets) the B2BUA uses as its own Contact.
func (b *Builder) OwnContactURI() string {
	return fmt.Sprintf("sip:%s@%s:%d", UserAgent, b.ServerIP, b.ServerPort)
}

// OwnContactHeader returns the full "Contact: <sip:...>" line.
func (b *Builder) OwnContactHeader() string {
	return fmt.Sprintf("Contact: <%s>", b.OwnContactURI())
}

// Response builds a response toward the given leg: status line, the
// leg's cached Via/From/To, the Call-ID, the leg's cached CSeq, any
// extra header lines, then Content-Length and body.
func (b *Builder) Response(code int, reason string, leg calltable.LegHeaders, callID string, extra []string, body []byte) []byte {
	var w strings.Builder
	fmt.Fprintf(&w, "SIP/2.0 %d %s\r\n", code, reason)
	writeLine(&w, leg.Via)
	writeLine(&w, leg.From)
	writeLine(&w, leg.To)
	fmt.Fprintf(&w, "Call-ID: %s\r\n", callID)
	writeLine(&w, leg.CSeq)
	for _, h := range extra {
		writeLine(&w, h)
	}
	fmt.Fprintf(&w, "User-Agent: %s\r\n", UserAgent)
	writeBodyTrailer(&w, body)
	return []byte(w.String())
}

// ForwardedRequest builds a request toward the B-leg that forwards an
// A-leg event (INVITE, or the B-leg half of a BYE/CANCEL/ACK the
// A-leg triggered). from/to/requestURI are full header/URI text
// supplied by the caller (the state machine decides, per the
// transition table, whether they come from cached A-leg headers,
// rebuilt B-leg headers, or a swapped combination).
func (b *Builder) ForwardedRequest(method, requestURI, via, from, to, callID string, cseq uint32, maxForwards int, contactURI string, body []byte) []byte {
	var w strings.Builder
	fmt.Fprintf(&w, "%s %s SIP/2.0\r\n", method, requestURI)
	writeLine(&w, via)
	fmt.Fprintf(&w, "Max-Forwards: %d\r\n", clampMaxForwards(maxForwards))
	writeLine(&w, to)
	writeLine(&w, from)
	fmt.Fprintf(&w, "Call-ID: %s\r\n", callID)
	fmt.Fprintf(&w, "CSeq: %d %s\r\n", cseq, method)
	if contactURI != "" {
		fmt.Fprintf(&w, "Contact: <%s>\r\n", contactURI)
	}
	fmt.Fprintf(&w, "User-Agent: %s\r\n", UserAgent)
	writeBodyTrailer(&w, body)
	return []byte(w.String())
}

// GeneratedRequest builds a request the B2BUA originates on its own
// behalf rather than forwarding — BYE toward A after B's BYE, CANCEL
// to B, ACK to B on failure or after A's ACK. It is identical in
// shape to ForwardedRequest; the distinction is purely about which
// event triggered it (spec.md §4.4 names them separately because the
// transition table's source headers differ, not the wire format).
func (b *Builder) GeneratedRequest(method, requestURI, via, from, to, callID string, cseq uint32, maxForwards int, body []byte) []byte {
	return b.ForwardedRequest(method, requestURI, via, from, to, callID, cseq, maxForwards, b.OwnContactURI(), body)
}

func writeLine(w *strings.Builder, line string) {
	if line == "" {
		return
	}
	w.WriteString(line)
	w.WriteString("\r\n")
}

func writeBodyTrailer(w *strings.Builder, body []byte) {
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body))
	if len(body) > 0 {
		w.Write(body)
	}
}

// clampMaxForwards implements spec.md §4.6: max(0, inbound-1).
func clampMaxForwards(inboundMinusOne int) int {
	if inboundMinusOne < 0 {
		return 0
	}
	return inboundMinusOne
}
