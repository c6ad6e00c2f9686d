package sipmsg

import "testing"

func buildInvite(body string) []byte {
	msg := "INVITE sip:1002@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.5:5062;branch=z9hG4bK776asdhds;rport\r\n" +
		"From: \"Alice\" <sip:1001@example.com>;tag=1928301774\r\n" +
		"To: <sip:1002@example.com>\r\n" +
		"Call-ID: flow-001@example.com\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Contact: <sip:1001@10.0.0.5:5062>\r\n" +
		"Max-Forwards: 70\r\n"
	if body != "" {
		msg += "Content-Type: application/sdp\r\n"
	}
	msg += "\r\n" + body
	return []byte(msg)
}

func TestParseRequest(t *testing.T) {
	msg, err := Parse(buildInvite("v=0\r\no=- 0 0 IN IP4 10.0.0.5\r\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !msg.IsRequest() {
		t.Fatal("expected request")
	}
	if msg.Method != "INVITE" {
		t.Errorf("Method = %q, want INVITE", msg.Method)
	}
	if msg.RequestURI != "sip:1002@example.com" {
		t.Errorf("RequestURI = %q", msg.RequestURI)
	}
	if !msg.HasSDP {
		t.Error("HasSDP = false, want true")
	}
	if msg.CSeqNumber != 1 || msg.CSeqMethod != "INVITE" {
		t.Errorf("CSeq = %d %q, want 1 INVITE", msg.CSeqNumber, msg.CSeqMethod)
	}
	if msg.MaxForwards != 70 {
		t.Errorf("MaxForwards = %d, want 70", msg.MaxForwards)
	}
	if msg.Header(HeaderCallID) != "Call-ID: flow-001@example.com" {
		t.Errorf("Call-ID = %q", msg.Header(HeaderCallID))
	}
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.5:5062\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Call-ID: flow-001@example.com\r\n" +
		"\r\n"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !msg.IsResponse() {
		t.Fatal("expected response")
	}
	if msg.StatusCode != 200 || msg.ReasonPhrase != "OK" {
		t.Errorf("status = %d %q", msg.StatusCode, msg.ReasonPhrase)
	}
}

func TestParseMissingHeadersAreTolerated(t *testing.T) {
	raw := "BYE sip:1001@example.com SIP/2.0\r\nCall-ID: x\r\n\r\n"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Header(HeaderVia) != "" {
		t.Errorf("Via = %q, want empty", msg.Header(HeaderVia))
	}
	if msg.MaxForwards != DefaultMaxForwards {
		t.Errorf("MaxForwards = %d, want default %d", msg.MaxForwards, DefaultMaxForwards)
	}
}

func TestParseMalformedStartLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no CRLF", "INVITE sip:x SIP/2.0\n\r\n"},
		{"too few fields", "INVITE sip:x\r\n\r\n"},
		{"bad version", "INVITE sip:x SIP/1.0\r\n\r\n"},
		{"bad status code", "SIP/2.0 abc OK\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err != ErrMalformedStartLine {
				t.Errorf("Parse() error = %v, want ErrMalformedStartLine", err)
			}
		})
	}
}

func TestCSeqParsingSkipsLeadingNonDigits(t *testing.T) {
	n, method := parseCSeq("CSeq:  42 ACK")
	if n != 42 || method != "ACK" {
		t.Errorf("parseCSeq = %d %q, want 42 ACK", n, method)
	}
}

func TestHasSDPExactSubstring(t *testing.T) {
	raw := "ACK sip:x SIP/2.0\r\nContent-Type: application/sdp; charset=utf8\r\n\r\n"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !msg.HasSDP {
		t.Error("HasSDP = false, want true")
	}
}
