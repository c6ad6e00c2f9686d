package registration

import (
	"strings"
	"testing"

	"github.com/tinysip/b2bua/internal/location"
	"github.com/tinysip/b2bua/internal/sipbuilder"
	"github.com/tinysip/b2bua/internal/sipmsg"
)

func raw(startLine string, headers []string) []byte {
	var b strings.Builder
	b.WriteString(startLine + "\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func registerHeaders(user string) []string {
	return []string{
		"Via: SIP/2.0/UDP 10.0.0.5:5062;branch=z9hG4bK1a2b;rport",
		`From: <sip:` + user + `@example.com>;tag=reg1`,
		`To: <sip:` + user + `@example.com>`,
		"Call-ID: reg-001@example.com",
		"CSeq: 1 REGISTER",
		"Contact: <sip:" + user + "@10.0.0.5:5062>",
		"Max-Forwards: 70",
	}
}

func newTestHandler() (*Handler, *location.Directory) {
	dir := location.New([]location.Entry{
		{UserID: "1001", Realm: "tinysip"},
	})
	builder := sipbuilder.New("203.0.113.10", 5060)
	return New(dir, builder), dir
}

// TestScenarioS5RegisterSuccess exercises spec.md's S5 scenario.
func TestScenarioS5RegisterSuccess(t *testing.T) {
	h, dir := newTestHandler()

	req := raw("REGISTER sip:example.com SIP/2.0", registerHeaders("1001"))
	msg, err := sipmsg.Parse(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	resp := h.Handle(msg, "10.0.0.5", 5062)
	if !strings.Contains(string(resp), "SIP/2.0 200 OK") {
		t.Fatalf("expected 200 OK, got:\n%s", resp)
	}
	if !strings.Contains(string(resp), "Contact: <sip:1001@10.0.0.5:5062>;expires=7200") {
		t.Errorf("missing expected Contact with expires:\n%s", resp)
	}

	entry, ok := dir.FindByUserID("1001")
	if !ok {
		t.Fatalf("entry for 1001 disappeared")
	}
	if entry.IP != "10.0.0.5" || entry.Port != 5062 || !entry.Registered {
		t.Errorf("binding not updated: %+v", entry)
	}
}

// TestScenarioS6RegisterUnknown exercises spec.md's S6 scenario.
func TestScenarioS6RegisterUnknown(t *testing.T) {
	h, dir := newTestHandler()

	req := raw("REGISTER sip:example.com SIP/2.0", registerHeaders("9999"))
	msg, err := sipmsg.Parse(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	resp := h.Handle(msg, "10.0.0.9", 5061)
	if !strings.Contains(string(resp), "SIP/2.0 404 Not Found") {
		t.Fatalf("expected 404, got:\n%s", resp)
	}
	if !strings.Contains(string(resp), "Content-Length: 0") {
		t.Errorf("expected Content-Length: 0 on 404:\n%s", resp)
	}
	if _, ok := dir.FindByUserID("9999"); ok {
		t.Errorf("unknown user should not appear in directory")
	}
}

func TestContactWithExpiresEmptyContactPassesThrough(t *testing.T) {
	if got := contactWithExpires(""); got != "" {
		t.Errorf("expected empty string to pass through unchanged, got %q", got)
	}
}
