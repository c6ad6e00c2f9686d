package sipbuilder

import (
	"strings"
	"testing"

	"github.com/tinysip/b2bua/internal/calltable"
)

func TestResponseIncludesCachedHeaders(t *testing.T) {
	b := New("203.0.113.10", 5060)
	leg := calltable.LegHeaders{
		Via:  "Via: SIP/2.0/UDP 10.0.0.5:5062;branch=z9hG4bK1;received=10.0.0.5",
		From: "From: \"Alice\" <sip:1001@example.com>;tag=123",
		To:   "To: <sip:1002@example.com>",
		CSeq: "CSeq: 1 INVITE",
	}

	out := string(b.Response(200, "OK", leg, "flow-001@example.com", []string{"Contact: <sip:1002@10.0.0.1:5060>"}, []byte("v=0\r\n")))

	wantLines := []string{
		"SIP/2.0 200 OK\r\n",
		leg.Via + "\r\n",
		leg.From + "\r\n",
		leg.To + "\r\n",
		"Call-ID: flow-001@example.com\r\n",
		leg.CSeq + "\r\n",
		"Content-Length: 5\r\n\r\n",
	}
	for _, want := range wantLines {
		if !strings.Contains(out, want) {
			t.Errorf("response missing %q\nfull:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "v=0\r\n") {
		t.Errorf("response does not end with body, got:\n%s", out)
	}
}

func TestForwardedRequestMaxForwardsDecrement(t *testing.T) {
	b := New("203.0.113.10", 5060)
	out := string(b.ForwardedRequest("INVITE", "sip:1002@192.168.192.1:5070", "Via: x", "From: a", "To: b", "id", 1, 69, "sip:TinySIP@203.0.113.10:5060", nil))
	if !strings.Contains(out, "Max-Forwards: 69\r\n") {
		t.Errorf("expected decremented Max-Forwards, got:\n%s", out)
	}
	if !strings.Contains(out, "CSeq: 1 INVITE\r\n") {
		t.Errorf("expected CSeq line, got:\n%s", out)
	}
	if !strings.Contains(out, "Content-Length: 0\r\n\r\n") {
		t.Errorf("expected zero content length for empty body, got:\n%s", out)
	}
}

func TestMaxForwardsNeverNegative(t *testing.T) {
	b := New("203.0.113.10", 5060)
	out := string(b.ForwardedRequest("BYE", "sip:x", "Via: x", "From: a", "To: b", "id", 2, -5, "", nil))
	if !strings.Contains(out, "Max-Forwards: 0\r\n") {
		t.Errorf("expected clamped Max-Forwards 0, got:\n%s", out)
	}
}

// TestViaRewritingIdempotence is Testable Property 5: a Via with
// ;rport and no received= gets exactly one ;rport=<port> and one
// ;received=<ip> appended.
func TestViaRewritingIdempotence(t *testing.T) {
	via := "Via: SIP/2.0/UDP 10.0.0.5:5062;branch=z9hG4bK776a;rport"
	got := RewriteReceivedVia(via, "10.0.0.5", 5062)

	if n := strings.Count(got, ";rport="); n != 1 {
		t.Errorf(";rport= count = %d, want 1 in %q", n, got)
	}
	if n := strings.Count(got, ";received="); n != 1 {
		t.Errorf(";received= count = %d, want 1 in %q", n, got)
	}
}

func TestViaRewritingWithoutRport(t *testing.T) {
	via := "Via: SIP/2.0/UDP 10.0.0.5:5062;branch=z9hG4bK776a"
	got := RewriteReceivedVia(via, "10.0.0.5", 5062)
	if strings.Contains(got, "rport") {
		t.Errorf("expected no rport param when absent from inbound, got %q", got)
	}
	if !strings.Contains(got, ";received=10.0.0.5") {
		t.Errorf("expected received param, got %q", got)
	}
}

func TestBranchesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		b := NewBranch()
		if seen[b] {
			t.Fatalf("duplicate branch generated: %s", b)
		}
		seen[b] = true
		if !strings.HasPrefix(b, "z9hG4bK") {
			t.Fatalf("branch missing cookie prefix: %s", b)
		}
	}
}
