// Package registration implements the B2BUA's REGISTER handling
// (spec.md §4.5, component C5): validate the caller against the
// location directory, update its transport binding on a hit, and
// reply 404 on a miss. Authentication is not performed.
package registration

import (
	"log/slog"
	"strconv"

	"github.com/tinysip/b2bua/internal/calltable"
	"github.com/tinysip/b2bua/internal/location"
	"github.com/tinysip/b2bua/internal/sipbuilder"
	"github.com/tinysip/b2bua/internal/sipmsg"
)

// DefaultExpires is the value advertised in the success Contact's
// ;expires parameter. Registrations never actually expire in this
// process (spec.md §4.2); the value is cosmetic, matching what a real
// endpoint expects to see echoed back.
const DefaultExpires = 7200

// Handler processes REGISTER requests against a shared directory.
type Handler struct {
	directory *location.Directory
	builder   *sipbuilder.Builder
}

// New builds a Handler backed by dir, using builder for outbound
// response framing.
func New(dir *location.Directory, builder *sipbuilder.Builder) *Handler {
	return &Handler{directory: dir, builder: builder}
}

// Handle processes a parsed REGISTER message and returns the raw
// bytes of the response to send back to sourceIP:sourcePort. It never
// returns an error: every outcome spec.md defines is a SIP response,
// not a Go error (spec.md §7, "failures manifest only as SIP
// responses").
func (h *Handler) Handle(msg *sipmsg.Message, sourceIP string, sourcePort uint16) []byte {
	userID := sipmsg.ExtractUserPart(msg.Header(sipmsg.HeaderFrom))
	callID := msg.CallID()

	entry, ok := h.directory.FindByUserID(userID)
	if !ok {
		slog.Info("[REGISTRATION] unknown user", "user_id", userID, "call_id", callID)
		return h.notFound(msg, callID)
	}

	h.directory.UpdateBinding(entry.UserID, sourceIP, sourcePort)
	slog.Info("[REGISTRATION] registered", "user_id", userID, "ip", sourceIP, "port", sourcePort, "call_id", callID)
	return h.ok(msg, callID)
}

func (h *Handler) notFound(msg *sipmsg.Message, callID string) []byte {
	return h.builder.Response(404, "Not Found", legHeadersFrom(msg), callID, nil, nil)
}

func (h *Handler) ok(msg *sipmsg.Message, callID string) []byte {
	contact := msg.Header(sipmsg.HeaderContact)
	extra := []string{contactWithExpires(contact)}
	return h.builder.Response(200, "OK", legHeadersFrom(msg), callID, extra, nil)
}

// legHeadersFrom echoes the request's Via/From/To/CSeq lines back as
// the cached-header shape the builder expects, per spec.md §4.5 ("Via
// /From/To/Call-ID/CSeq echoed").
func legHeadersFrom(msg *sipmsg.Message) calltable.LegHeaders {
	return calltable.LegHeaders{
		Via:  msg.Header(sipmsg.HeaderVia),
		From: msg.Header(sipmsg.HeaderFrom),
		To:   msg.Header(sipmsg.HeaderTo),
		CSeq: msg.Header(sipmsg.HeaderCSeq),
	}
}

// contactWithExpires echoes the request's Contact header, appending
// ";expires=<DefaultExpires>", per spec.md §4.5.
func contactWithExpires(contact string) string {
	if contact == "" {
		return ""
	}
	return contact + ";expires=" + strconv.Itoa(DefaultExpires)
}
