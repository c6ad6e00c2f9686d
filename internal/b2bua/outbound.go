package b2bua

// Outbound is one wire-ready payload the caller (the UDP transport)
// must send to a destination address. HandleDatagram may return zero
// to three of these for a single inbound datagram (three for a CANCEL
// from the A-leg: 200 OK and 487 toward A, CANCEL toward B).
type Outbound struct {
	DestIP   string
	DestPort uint16
	Data     []byte
}
