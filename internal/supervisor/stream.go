package supervisor

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BDNK1/blockflow/internal/constants"
)

// lineSplitter turns arbitrary read chunks into complete lines, keeping a
// trailing partial line until more data or flush.
type lineSplitter struct {
	buf []byte
}

func (s *lineSplitter) feed(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(s.buf[:i]), "\r")
		s.buf = s.buf[i+1:]
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// flush returns the buffered partial line, if any.
func (s *lineSplitter) flush() (string, bool) {
	line := strings.TrimSuffix(string(s.buf), "\r")
	s.buf = nil
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}

// classify parses one stdout line. Lines that are not JSON objects with a
// message are plain log text.
func classify(line string) (EventType, string) {
	if !gjson.Valid(line) {
		return EventLog, line
	}
	doc := gjson.Parse(line)
	if !doc.IsObject() {
		return EventLog, line
	}
	msg := doc.Get("message")
	if !msg.Exists() {
		return EventLog, line
	}

	message := msg.String()
	if msg.Type == gjson.JSON {
		message = msg.Raw
	}

	switch t := EventType(doc.Get("type").String()); t {
	case EventError, EventWarn, EventLog:
		return t, message
	default:
		return EventLog, message
	}
}

// deduper remembers which (type, message) pairs a run has already forwarded.
// Structured progress messages always pass.
type deduper struct {
	seen map[string]struct{}
}

func newDeduper() *deduper {
	return &deduper{seen: make(map[string]struct{})}
}

func (d *deduper) admit(t EventType, message string) bool {
	if strings.HasPrefix(message, constants.LogMarker) {
		return true
	}
	key := string(t) + "\x00" + strings.TrimSpace(message)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
