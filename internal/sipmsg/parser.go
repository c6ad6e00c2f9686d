package sipmsg

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedStartLine is returned when the first line of a datagram
// does not end in CRLF or does not match either
// "METHOD SP URI SP SIP/2.0" or "SIP/2.0 SP CODE ...". It is the only
// error Parse ever returns; every other malformation is tolerated.
var ErrMalformedStartLine = errors.New("sipmsg: malformed start line")

// MaxDatagramSize is the per-message buffer ceiling spec.md §5
// mandates (single UDP-MTU-safe payload). Callers are expected to
// truncate at this boundary before calling Parse; Parse itself does
// not enforce it so it stays usable on pre-truncated test fixtures.
const MaxDatagramSize = 1400

var trackedHeaders = [...]string{
	HeaderVia,
	HeaderFrom,
	HeaderTo,
	HeaderCallID,
	HeaderCSeq,
	HeaderContact,
	HeaderMaxForwards,
	HeaderContentType,
}

// Parse turns a raw UDP payload into a Message. It is tolerant:
// missing non-essential headers yield empty strings, and the body is
// never validated against Content-Length. The only failure mode is a
// start line that doesn't end in CRLF or doesn't match the expected
// shape.
func Parse(data []byte) (*Message, error) {
	reader := bufio.NewReader(bytes.NewReader(data))

	startLine, err := readCRLFLine(reader)
	if err != nil {
		return nil, ErrMalformedStartLine
	}

	msg, err := parseStartLine(startLine)
	if err != nil {
		return nil, err
	}
	msg.Headers = make(map[string]string, len(trackedHeaders))

	for {
		line, lineErr := readAnyLine(reader)
		if lineErr != nil || line == "" {
			break
		}
		for _, tracked := range trackedHeaders {
			if strings.HasPrefix(line, tracked+": ") {
				msg.Headers[tracked] = line
				break
			}
		}
	}

	msg.HasSDP = strings.Contains(msg.Headers[HeaderContentType], sdpContentType)
	msg.CSeqNumber, msg.CSeqMethod = parseCSeq(msg.Headers[HeaderCSeq])
	msg.MaxForwards = parseMaxForwards(msg.Headers[HeaderMaxForwards])

	remaining := drain(reader)
	if len(remaining) > 0 {
		msg.Body = remaining
	}

	return msg, nil
}

// parseStartLine classifies the first line as a request-line or a
// status-line and fills in the corresponding Message fields.
func parseStartLine(line string) (*Message, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return nil, ErrMalformedStartLine
	}

	if strings.HasPrefix(fields[0], "SIP/2.0") {
		if fields[0] != "SIP/2.0" {
			return nil, ErrMalformedStartLine
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, ErrMalformedStartLine
		}
		return &Message{
			Kind:         KindResponse,
			StatusCode:   code,
			ReasonPhrase: fields[2],
		}, nil
	}

	if fields[2] != "SIP/2.0" {
		return nil, ErrMalformedStartLine
	}
	return &Message{
		Kind:       KindRequest,
		Method:     fields[0],
		RequestURI: fields[1],
	}, nil
}

// parseCSeq extracts the CSeq number by skipping leading non-digits
// then consuming digits, and the method token that follows, per
// spec.md §4.1.
func parseCSeq(line string) (number uint32, method string) {
	i := 0
	for i < len(line) && (line[i] < '0' || line[i] > '9') {
		i++
	}
	start := i
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if start < i {
		if n, err := strconv.ParseUint(line[start:i], 10, 32); err == nil {
			number = uint32(n)
		}
	}
	rest := strings.TrimSpace(line[i:])
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		return number, fields[0]
	}
	return number, ""
}

func parseMaxForwards(line string) int {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return DefaultMaxForwards
	}
	v := strings.TrimSpace(line[idx+1:])
	n, err := strconv.Atoi(v)
	if err != nil {
		return DefaultMaxForwards
	}
	return n
}

// readCRLFLine reads one line and requires it to have ended in CRLF.
func readCRLFLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(raw, "\r\n") {
		return "", ErrMalformedStartLine
	}
	return strings.TrimSuffix(raw, "\r\n"), nil
}

// readAnyLine reads one line and tolerates bare LF or EOF-without-
// newline, since only the start line's CRLF is a hard requirement.
func readAnyLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadString('\n')
	if err != nil && raw == "" {
		return "", err
	}
	return strings.TrimRight(raw, "\r\n"), nil
}

func drain(r *bufio.Reader) []byte {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}
