// Package b2bua implements the call-control state machine described
// in spec.md §4.6 (component C6): it allocates a Call on a new
// INVITE, pairs the A-leg and B-leg dialogs, and dispatches every
// subsequent event — request or response, on either leg — to the
// action the transition table names, building outbound SIP payloads
// via sipbuilder and mutating the Call through the opaque handle
// calltable hands out.
//
// It never touches a UDP socket directly; HandleDatagram returns the
// set of payloads the caller must send, keeping the state machine
// synchronous and easy to test in isolation (spec.md §1, "sole focus
// of this specification").
package b2bua

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/tinysip/b2bua/internal/calltable"
	"github.com/tinysip/b2bua/internal/location"
	"github.com/tinysip/b2bua/internal/registration"
	"github.com/tinysip/b2bua/internal/sipbuilder"
	"github.com/tinysip/b2bua/internal/sipmsg"
)

// Core wires together the directory, call table, builder and
// registrar a running B2BUA process needs. One Core is built at
// startup and shared across every worker (spec.md §9's CoreContext
// design note).
type Core struct {
	directory  *location.Directory
	table      *calltable.Table
	builder    *sipbuilder.Builder
	registrar  *registration.Handler
	globalCSeq atomic.Uint32
}

// New builds a Core. globalCSeq starts at 0 so the first
// self-originated request's CSeq is 1.
func New(directory *location.Directory, table *calltable.Table, builder *sipbuilder.Builder, registrar *registration.Handler) *Core {
	return &Core{directory: directory, table: table, builder: builder, registrar: registrar}
}

// nextCSeq returns the next process-wide CSeq number, per spec.md §4.6
// ("global_cseq is a process-wide u32 ... atomic fetch-add").
func (c *Core) nextCSeq() uint32 {
	return c.globalCSeq.Add(1)
}

// HandleDatagram parses data and dispatches it: REGISTER goes to the
// registrar, everything else is matched against the call table by
// Call-ID. Parser failures and events with no matching call (other
// than a fresh INVITE) are dropped without a reply and logged at WARN,
// per spec.md §7.
func (c *Core) HandleDatagram(data []byte, sourceIP string, sourcePort uint16) []Outbound {
	msg, err := sipmsg.Parse(data)
	if err != nil {
		slog.Warn("[B2BUA] dropping malformed datagram", "source_ip", sourceIP, "source_port", sourcePort, "error", err)
		return nil
	}

	if msg.IsRequest() && msg.Method == "REGISTER" {
		resp := c.registrar.Handle(msg, sourceIP, sourcePort)
		return []Outbound{{DestIP: sourceIP, DestPort: sourcePort, Data: resp}}
	}

	callID := msg.CallID()
	handle, leg, ok := c.table.FindByDialogID(callID)
	if !ok {
		if msg.IsRequest() && msg.Method == "INVITE" {
			return c.handleNewInvite(msg, sourceIP, sourcePort)
		}
		slog.Warn("[B2BUA] no call matches dialog identifier", "call_id", callID, "message", msg.String())
		return nil
	}

	return c.dispatchEvent(handle, leg, msg, sourceIP, sourcePort)
}

// handleNewInvite implements the "— | INVITE (no matching call)" row
// of the transition table.
func (c *Core) handleNewInvite(msg *sipmsg.Message, sourceIP string, sourcePort uint16) []Outbound {
	handle, err := c.table.Allocate()
	if err != nil {
		slog.Warn("[B2BUA] call table full, rejecting INVITE", "source_ip", sourceIP, "source_port", sourcePort)
		resp := c.builder.Response(500, "Server Internal Error", legHeadersFromMessage(msg), msg.CallID(), nil, nil)
		return []Outbound{{DestIP: sourceIP, DestPort: sourcePort, Data: resp}}
	}

	aLegCallID := msg.CallID()
	caller := sipmsg.ExtractUserPart(msg.Header(sipmsg.HeaderFrom))
	callee := sipmsg.ExtractUserPart(msg.Header(sipmsg.HeaderTo))

	entry, found := c.directory.FindByUserID(callee)
	if !found {
		c.table.Release(handle)
		slog.Info("[B2BUA] callee not found, rejecting INVITE", "callee", callee, "call_id", aLegCallID)
		resp := c.builder.Response(404, "Not Found", legHeadersFromMessage(msg), aLegCallID, nil, nil)
		return []Outbound{{DestIP: sourceIP, DestPort: sourcePort, Data: resp}}
	}

	bLegCallID := deriveBLegCallID(aLegCallID)
	aLegHeaders := calltable.LegHeaders{
		Via:  sipbuilder.RewriteReceivedVia(msg.Header(sipmsg.HeaderVia), sourceIP, sourcePort),
		From: msg.Header(sipmsg.HeaderFrom),
		To:   msg.Header(sipmsg.HeaderTo),
		CSeq: msg.Header(sipmsg.HeaderCSeq),
	}
	bCSeq := c.nextCSeq()
	bVia := c.newServerVia()
	bFrom := msg.Header(sipmsg.HeaderFrom)
	bTo := fmt.Sprintf("To: <sip:%s@%s:%d;ob>", callee, entry.IP, entry.Port)
	bLegHeaders := calltable.LegHeaders{
		Via:  bVia,
		From: bFrom,
		To:   bTo,
		CSeq: fmt.Sprintf("CSeq: %d INVITE", bCSeq),
	}
	requestURI := fmt.Sprintf("sip:%s@%s:%d", callee, entry.IP, entry.Port)

	err = handle.Access(func(call *calltable.Call) {
		call.State = calltable.StateRouting
		call.ALegCallID = aLegCallID
		call.BLegCallID = bLegCallID
		call.ALegIP = sourceIP
		call.ALegPort = sourcePort
		call.BLegIP = entry.IP
		call.BLegPort = entry.Port
		call.ALegHeaders = aLegHeaders
		call.BLegHeaders = bLegHeaders
		call.ALegContact = contactURI(msg.Header(sipmsg.HeaderContact))
		call.BLegRequestURI = requestURI
		call.BLegInviteCSeq = bCSeq
		call.Caller = caller
		call.Callee = callee
	})
	if err != nil {
		slog.Error("[B2BUA] lost freshly allocated call", "error", err)
		return nil
	}

	slog.Info("[B2BUA] routing new call", "call_id", aLegCallID, "b_leg_call_id", bLegCallID, "caller", caller, "callee", callee, "b_target", fmt.Sprintf("%s:%d", entry.IP, entry.Port))

	trying := c.builder.Response(100, "Trying", aLegHeaders, aLegCallID, nil, nil)
	invite := c.builder.ForwardedRequest("INVITE", requestURI, bVia, bFrom, bTo, bLegCallID, bCSeq, msg.MaxForwards-1, c.builder.OwnContactURI(), msg.Body)

	return []Outbound{
		{DestIP: sourceIP, DestPort: sourcePort, Data: trying},
		{DestIP: entry.IP, DestPort: entry.Port, Data: invite},
	}
}

// deriveBLegCallID overwrites the first five bytes of the A-leg's
// Call-ID with the literal "b-leg", per spec.md §3's invariant.
func deriveBLegCallID(aLegCallID string) string {
	if len(aLegCallID) < 5 {
		return "b-leg" + aLegCallID
	}
	return "b-leg" + aLegCallID[5:]
}

// newServerVia builds a fresh topmost Via for a B2BUA-originated
// request, per spec.md §4.4 ("single topmost branch ... regenerated
// for each self-originated request").
func (c *Core) newServerVia() string {
	return fmt.Sprintf("Via: SIP/2.0/UDP %s:%d;branch=%s", c.builder.ServerIP, c.builder.ServerPort, sipbuilder.NewBranch())
}

// legHeadersFromMessage echoes a request's own Via/From/To/CSeq,
// used for responses to that request's own transaction (CANCEL's 200
// OK, BYE's 200 OK, 404/500 on INVITE setup failure) as opposed to
// responses to the original INVITE dialog, which use the leg's cached
// headers instead.
func legHeadersFromMessage(msg *sipmsg.Message) calltable.LegHeaders {
	return calltable.LegHeaders{
		Via:  msg.Header(sipmsg.HeaderVia),
		From: msg.Header(sipmsg.HeaderFrom),
		To:   msg.Header(sipmsg.HeaderTo),
		CSeq: msg.Header(sipmsg.HeaderCSeq),
	}
}

// relabelHeader rewrites a cached header line's field name, keeping
// everything from the first colon onward. Used when a forged request
// must swap From/To: the cached line carries the wrong label for its
// new role (e.g. the A-leg's cached "To: ..." line reused as the
// forged BYE's From), so the label itself has to change, not just
// which cached value is passed where.
func relabelHeader(line, newName string) string {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line
	}
	return newName + line[idx:]
}

// contactURI strips the field name and angle brackets from a cached
// Contact header line, leaving a bare URI (spec.md §3: "URI only,
// angle brackets stripped").
func contactURI(raw string) string {
	open := -1
	close_ := -1
	for i := 0; i < len(raw); i++ {
		if raw[i] == '<' && open < 0 {
			open = i
		}
		if raw[i] == '>' {
			close_ = i
		}
	}
	if open >= 0 && close_ > open {
		return raw[open+1 : close_]
	}
	prefix := sipmsg.HeaderContact + ": "
	if len(raw) >= len(prefix) && raw[:len(prefix)] == prefix {
		return raw[len(prefix):]
	}
	return raw
}
