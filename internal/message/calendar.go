package message

import (
	"bufio"
	"bytes"
	"sort"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
)

// calendarDateLayout is the date-time pattern used in calendar payloads.
const calendarDateLayout = "20060102T150405"

// Property is a single calendar line split at its first colon. The key
// keeps any parameters, e.g. `DTSTART;TZID=Europe/Berlin`.
type Property struct {
	Key   string
	Value string
}

// Properties is the ordered calendar property list. Order matters
// because keys such as ATTENDEE repeat.
type Properties []Property

// ParseCalendar extracts the calendar payload from a raw message and
// parses it into properties. Input without a MIME envelope is treated
// as bare calendar text.
func ParseCalendar(raw []byte) Properties {
	props := parseProperties(calendarPayload(raw))
	if len(props) == 0 {
		// A bare calendar block looks like a header section to the MIME
		// reader, which leaves an empty body. Parse the input directly.
		props = parseProperties(raw)
	}
	return props
}

// calendarPayload locates the text/calendar part. Alternative groups
// are searched for an explicit calendar rendition; otherwise the
// message content itself is taken as the payload.
func calendarPayload(raw []byte) []byte {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && entity == nil {
		return raw
	}

	node := buildNode(entity)
	if data := findCalendarPart(node); data != nil {
		return data
	}
	if len(node.parts) == 0 {
		return node.data
	}
	return raw
}

func findCalendarPart(n *partNode) []byte {
	if strings.HasPrefix(n.mediaType, "text/calendar") {
		return n.data
	}
	for _, child := range n.parts {
		if data := findCalendarPart(child); data != nil {
			return data
		}
	}
	return nil
}

// parseProperties unfolds calendar lines and splits each logical line
// at the first colon. A line starting with a single space continues the
// previous logical line, unless its content itself opens a new property;
// some servers fold between properties rather than inside values.
func parseProperties(data []byte) Properties {
	var props Properties
	var logical string

	flush := func() {
		if logical == "" {
			return
		}
		if i := strings.IndexByte(logical, ':'); i >= 0 {
			props = append(props, Property{Key: logical[:i], Value: logical[i+1:]})
		}
		logical = ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, " ") {
			rest := line[1:]
			if opensProperty(rest) {
				flush()
				logical = rest
			} else {
				logical += rest
			}
			continue
		}
		flush()
		logical = line
	}
	flush()

	return props
}

// opensProperty reports whether a continuation line actually starts a
// new property, i.e. an upper-case name (optionally with parameters)
// followed by a colon.
func opensProperty(line string) bool {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	name := line[:i]
	if j := strings.IndexByte(name, ';'); j >= 0 {
		name = name[:j]
	}
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// Get returns the first value for key, or "" when absent.
func (p Properties) Get(key string) (string, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// date resolves a date property, trying the bare key first and then the
// timezone-qualified variants derived from the TZID property.
func (p Properties) date(key string) (time.Time, bool) {
	value, ok := p.Get(key)
	if !ok {
		if tz, tzOK := p.Get("TZID"); tzOK {
			value, ok = p.Get(key + `;TZID="` + tz + `"`)
			if !ok {
				value, ok = p.Get(key + ";TZID=" + tz)
			}
		}
	}
	if !ok {
		return time.Time{}, false
	}

	value = strings.TrimSuffix(strings.TrimSpace(value), "Z")
	t, err := time.Parse(calendarDateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Start returns the meeting start time.
func (p Properties) Start() (time.Time, bool) { return p.date("DTSTART") }

// End returns the meeting end time.
func (p Properties) End() (time.Time, bool) { return p.date("DTEND") }

// Location returns the meeting location, or "".
func (p Properties) Location() string {
	v, _ := p.Get("LOCATION")
	return v
}

// Status returns the meeting status, or "".
func (p Properties) Status() string {
	v, _ := p.Get("STATUS")
	return v
}

// Description returns the meeting description with escaped newline
// sequences expanded.
func (p Properties) Description() string {
	v, _ := p.Get("DESCRIPTION")
	v = strings.ReplaceAll(v, `\N`, "\n")
	return strings.ReplaceAll(v, `\n`, "\n")
}

// Participants collects attendee and organizer addresses, lower-cased
// with any mailto: prefix stripped, deduplicated and sorted.
func (p Properties) Participants() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, prop := range p {
		name := prop.Key
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
		if name != "ATTENDEE" && name != "ORGANIZER" {
			continue
		}
		addr := strings.TrimSpace(prop.Value)
		if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
			addr = addr[7:]
		}
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Organizer returns the organizer address, lower-cased with any
// mailto: prefix stripped, or "".
func (p Properties) Organizer() string {
	for _, prop := range p {
		name := prop.Key
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
		if name != "ORGANIZER" {
			continue
		}
		addr := strings.TrimSpace(prop.Value)
		if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
			addr = addr[7:]
		}
		return strings.ToLower(strings.TrimSpace(addr))
	}
	return ""
}
