package b2bua

import (
	"log/slog"

	"github.com/tinysip/b2bua/internal/calltable"
	"github.com/tinysip/b2bua/internal/sipmsg"
)

// snapshot is a consistent, point-in-time copy of the fields of an
// existing Call the event handlers below need. It is read once under
// the call's guard (via Handle.Access) at the top of dispatchEvent,
// then used without further locking; any mutation a handler decides
// on is applied afterwards through a second, short Access call.
type snapshot struct {
	state          calltable.State
	aLegCallID     string
	bLegCallID     string
	aLegIP         string
	bLegIP         string
	aLegPort       uint16
	bLegPort       uint16
	aLegHeaders    calltable.LegHeaders
	bLegHeaders    calltable.LegHeaders
	aLegContact    string
	bLegContact    string
	bLegRequestURI string
	bLegInviteCSeq uint32
}

func snapshotOf(c *calltable.Call) snapshot {
	return snapshot{
		state:          c.State,
		aLegCallID:     c.ALegCallID,
		bLegCallID:     c.BLegCallID,
		aLegIP:         c.ALegIP,
		bLegIP:         c.BLegIP,
		aLegPort:       c.ALegPort,
		bLegPort:       c.BLegPort,
		aLegHeaders:    c.ALegHeaders,
		bLegHeaders:    c.BLegHeaders,
		aLegContact:    c.ALegContact,
		bLegContact:    c.BLegContact,
		bLegRequestURI: c.BLegRequestURI,
		bLegInviteCSeq: c.BLegInviteCSeq,
	}
}

// dispatchEvent routes an event against an existing call to the
// handler for its kind. It is the entry point for every datagram that
// matched a call in HandleDatagram.
func (c *Core) dispatchEvent(handle calltable.Handle, leg calltable.LegSide, msg *sipmsg.Message, sourceIP string, sourcePort uint16) []Outbound {
	var snap snapshot
	if err := handle.Access(func(call *calltable.Call) { snap = snapshotOf(call) }); err != nil {
		slog.Warn("[B2BUA] stale handle for dialog event", "error", err)
		return nil
	}

	if msg.IsRequest() {
		switch msg.Method {
		case "CANCEL":
			return c.handleCancel(handle, leg, snap, msg, sourceIP, sourcePort)
		case "ACK":
			return c.handleAck(handle, leg, snap)
		case "BYE":
			return c.handleBye(handle, leg, snap, msg, sourceIP, sourcePort)
		default:
			c.logUnexpected(handle.Index(), snap.state, leg, "request "+msg.Method)
			return nil
		}
	}
	return c.handleResponse(handle, leg, snap, msg)
}

func (c *Core) logUnexpected(index uint32, state calltable.State, leg calltable.LegSide, detail string) {
	err := &TransitionError{CallIndex: index, State: state, Leg: leg, Detail: detail}
	slog.Warn("[B2BUA] "+err.Error(), "call_index", index)
}

// handleResponse implements every response-driven row of the
// transition table: 180/183/2xx/4xx-6xx to the B-leg INVITE, and the
// 2xx release for a self-originated BYE or CANCEL.
func (c *Core) handleResponse(handle calltable.Handle, leg calltable.LegSide, snap snapshot, msg *sipmsg.Message) []Outbound {
	statusClass := msg.StatusCode / 100

	if leg == calltable.BLeg && msg.CSeqMethod == "INVITE" {
		switch {
		case snap.state == calltable.StateRouting && msg.StatusCode == 180:
			return c.handleRinging(handle, snap, msg)
		case (snap.state == calltable.StateRouting || snap.state == calltable.StateRinging) && msg.StatusCode == 183:
			return c.handleSessionProgress(snap, msg)
		case (snap.state == calltable.StateRouting || snap.state == calltable.StateRinging) && statusClass == 2:
			return c.handleInviteAnswered(handle, snap, msg)
		case (snap.state == calltable.StateRouting || snap.state == calltable.StateRinging) && statusClass >= 4 && statusClass <= 6:
			return c.handleInviteFailed(handle, snap, msg)
		case (snap.state == calltable.StateRouting || snap.state == calltable.StateRinging) && statusClass == 1:
			return nil // 1xx other than 180/183: no-op, per transition table.
		default:
			c.logUnexpected(handle.Index(), snap.state, leg, msg.String())
			return nil
		}
	}

	if msg.CSeqMethod == "BYE" || msg.CSeqMethod == "CANCEL" {
		if snap.state == calltable.StateDisconnecting && statusClass == 2 {
			c.table.Release(handle)
			slog.Info("[B2BUA] call released", "call_index", handle.Index(), "cseq_method", msg.CSeqMethod)
			return nil
		}
	}

	c.logUnexpected(handle.Index(), snap.state, leg, msg.String())
	return nil
}

func (c *Core) handleRinging(handle calltable.Handle, snap snapshot, msg *sipmsg.Message) []Outbound {
	c.applyOfferFlags(handle, msg)
	_ = handle.Access(func(call *calltable.Call) { call.State = calltable.StateRinging })
	resp := c.builder.Response(180, "Ringing", snap.aLegHeaders, snap.aLegCallID, []string{c.builder.OwnContactHeader()}, sdpBodyIfPresent(msg))
	return []Outbound{{DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: resp}}
}

func (c *Core) handleSessionProgress(snap snapshot, msg *sipmsg.Message) []Outbound {
	resp := c.builder.Response(183, "Session Progress", snap.aLegHeaders, snap.aLegCallID, []string{c.builder.OwnContactHeader()}, sdpBodyIfPresent(msg))
	return []Outbound{{DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: resp}}
}

func (c *Core) handleInviteAnswered(handle calltable.Handle, snap snapshot, msg *sipmsg.Message) []Outbound {
	contact := contactURI(msg.Header(sipmsg.HeaderContact))
	_ = handle.Access(func(call *calltable.Call) {
		call.State = calltable.StateAnswered
		call.BLegContact = contact
		if msg.HasSDP {
			call.ALegMedia.LocalMedia = true
			call.BLegMedia.RemoteMedia = true
		}
	})
	resp := c.builder.Response(msg.StatusCode, msg.ReasonPhrase, snap.aLegHeaders, snap.aLegCallID, []string{c.builder.OwnContactHeader()}, sdpBodyIfPresent(msg))
	return []Outbound{{DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: resp}}
}

func (c *Core) handleInviteFailed(handle calltable.Handle, snap snapshot, msg *sipmsg.Message) []Outbound {
	ackURI := snap.bLegRequestURI
	ack := c.builder.GeneratedRequest("ACK", ackURI, c.newServerVia(), snap.bLegHeaders.From, snap.bLegHeaders.To, snap.bLegCallID, snap.bLegInviteCSeq, sipmsg.DefaultMaxForwards, nil)
	resp := c.builder.Response(msg.StatusCode, msg.ReasonPhrase, snap.aLegHeaders, snap.aLegCallID, nil, nil)

	c.table.Release(handle)
	slog.Info("[B2BUA] call released", "call_index", handle.Index(), "reason", "invite failed", "status", msg.StatusCode)

	return []Outbound{
		{DestIP: snap.bLegIP, DestPort: snap.bLegPort, Data: ack},
		{DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: resp},
	}
}

func (c *Core) applyOfferFlags(handle calltable.Handle, msg *sipmsg.Message) {
	if !msg.HasSDP {
		return
	}
	_ = handle.Access(func(call *calltable.Call) {
		call.ALegMedia.LocalMedia = true
		call.BLegMedia.RemoteMedia = true
	})
}

func sdpBodyIfPresent(msg *sipmsg.Message) []byte {
	if msg.HasSDP {
		return msg.Body
	}
	return nil
}

// handleCancel implements the CANCEL-from-A row, and the documented
// CANCEL-after-answer race as a warning with no teardown (the BYE race
// is handled in handleBye).
func (c *Core) handleCancel(handle calltable.Handle, leg calltable.LegSide, snap snapshot, msg *sipmsg.Message, sourceIP string, sourcePort uint16) []Outbound {
	if leg != calltable.ALeg {
		c.logUnexpected(handle.Index(), snap.state, leg, "CANCEL not from A-leg")
		return nil
	}

	switch snap.state {
	case calltable.StateRouting, calltable.StateRinging:
		_ = handle.Access(func(call *calltable.Call) { call.State = calltable.StateDisconnecting })

		cancelOK := c.builder.Response(200, "OK", legHeadersFromMessage(msg), msg.CallID(), nil, nil)
		terminated := c.builder.Response(487, "Request Terminated", snap.aLegHeaders, snap.aLegCallID, nil, nil)
		cancel := c.builder.GeneratedRequest("CANCEL", snap.bLegRequestURI, c.newServerVia(), snap.bLegHeaders.From, snap.bLegHeaders.To, snap.bLegCallID, snap.bLegInviteCSeq, sipmsg.DefaultMaxForwards, nil)

		return []Outbound{
			{DestIP: sourceIP, DestPort: sourcePort, Data: cancelOK},
			{DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: terminated},
			{DestIP: snap.bLegIP, DestPort: snap.bLegPort, Data: cancel},
		}

	case calltable.StateAnswered, calltable.StateConnected, calltable.StateDisconnecting:
		slog.Warn("[B2BUA] CANCEL arrived after INVITE was already answered (race)", "call_index", handle.Index())
		return nil

	default:
		c.logUnexpected(handle.Index(), snap.state, leg, "CANCEL")
		return nil
	}
}

// handleAck implements the ACK-from-A row (ANSWERED -> CONNECTED).
func (c *Core) handleAck(handle calltable.Handle, leg calltable.LegSide, snap snapshot) []Outbound {
	if leg != calltable.ALeg || snap.state != calltable.StateAnswered {
		c.logUnexpected(handle.Index(), snap.state, leg, "ACK")
		return nil
	}

	_ = handle.Access(func(call *calltable.Call) { call.State = calltable.StateConnected })

	target := snap.bLegContact
	if target == "" {
		target = snap.bLegRequestURI
	}
	ack := c.builder.GeneratedRequest("ACK", target, c.newServerVia(), snap.bLegHeaders.From, snap.bLegHeaders.To, snap.bLegCallID, snap.bLegInviteCSeq, sipmsg.DefaultMaxForwards, nil)
	return []Outbound{{DestIP: snap.bLegIP, DestPort: snap.bLegPort, Data: ack}}
}

// handleBye implements the BYE-from-either-leg row (CONNECTED ->
// DISCONNECTING), and the documented ANSWERED race as a warning.
func (c *Core) handleBye(handle calltable.Handle, leg calltable.LegSide, snap snapshot, msg *sipmsg.Message, sourceIP string, sourcePort uint16) []Outbound {
	if snap.state == calltable.StateAnswered {
		slog.Warn("[B2BUA] BYE arrived while waiting for A's ACK (race)", "call_index", handle.Index())
		return nil
	}
	if snap.state != calltable.StateConnected {
		c.logUnexpected(handle.Index(), snap.state, leg, "BYE")
		return nil
	}

	_ = handle.Access(func(call *calltable.Call) { call.State = calltable.StateDisconnecting })

	ok := c.builder.Response(200, "OK", legHeadersFromMessage(msg), msg.CallID(), nil, nil)
	okOut := Outbound{DestIP: sourceIP, DestPort: sourcePort, Data: ok}

	if leg == calltable.ALeg {
		cseq := c.nextCSeq()
		target := snap.bLegContact
		if target == "" {
			target = snap.bLegRequestURI
		}
		bye := c.builder.GeneratedRequest("BYE", target, c.newServerVia(), snap.bLegHeaders.From, snap.bLegHeaders.To, snap.bLegCallID, cseq, sipmsg.DefaultMaxForwards, nil)
		return []Outbound{okOut, {DestIP: snap.bLegIP, DestPort: snap.bLegPort, Data: bye}}
	}

	cseq := c.nextCSeq()
	swappedFrom := relabelHeader(snap.aLegHeaders.To, "From")
	swappedTo := relabelHeader(snap.aLegHeaders.From, "To")
	bye := c.builder.GeneratedRequest("BYE", snap.aLegContact, c.newServerVia(), swappedFrom, swappedTo, snap.aLegCallID, cseq, sipmsg.DefaultMaxForwards, nil)
	return []Outbound{okOut, {DestIP: snap.aLegIP, DestPort: snap.aLegPort, Data: bye}}
}
