// Package transport wraps the UDP socket the B2BUA listens on. It
// truncates oversized datagrams, parses each one only to drop those
// with a malformed start line and to take its Call-ID as the worker
// key, and moves bytes between the wire and the worker pool, per spec.md §1's
// "out of scope (external collaborators): UDP socket I/O".
package transport

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tinysip/b2bua/internal/b2bua"
	"github.com/tinysip/b2bua/internal/sipmsg"
)

// Socket owns the listening UDP connection.
type Socket struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket at bindAddr:port.
func Listen(bindAddr string, port int) (*Socket, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindAddr), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s:%d: %w", bindAddr, port, err)
	}
	return &Socket{conn: conn}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// EnqueueFunc is called once per received datagram with its dialog
// key (for worker-hashing) and payload.
type EnqueueFunc func(dialogKey string, data []byte, sourceIP string, sourcePort uint16)

// Serve reads datagrams until the socket is closed, truncating each
// to sipmsg.MaxDatagramSize and handing it to enqueue; datagrams that
// sipmsg.Parse rejects are logged and dropped. It returns when
// the underlying connection errors (normally because Close was
// called), so the caller should run it in its own goroutine.
func (s *Socket) Serve(enqueue EnqueueFunc) error {
	buf := make([]byte, sipmsg.MaxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		msg, parseErr := sipmsg.Parse(data)
		if parseErr != nil {
			slog.Warn("[TRANSPORT] dropping malformed datagram", "source", addr.String(), "error", parseErr)
			continue
		}
		enqueue(msg.CallID(), data, addr.IP.String(), uint16(addr.Port))
	}
}

// Send writes o.Data to o.DestIP:o.DestPort. It implements
// worker.Sender.
func (s *Socket) Send(o b2bua.Outbound) error {
	addr := &net.UDPAddr{IP: net.ParseIP(o.DestIP), Port: int(o.DestPort)}
	_, err := s.conn.WriteToUDP(o.Data, addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s:%d: %w", o.DestIP, o.DestPort, err)
	}
	return nil
}
