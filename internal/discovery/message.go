package discovery

import (
	"regexp"
	"strings"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

// First lines accepted as lamp announcements.
const (
	notifyLine   = "NOTIFY * HTTP/1.1"
	responseLine = "HTTP/1.1 200 OK"
)

var (
	headerPattern   = regexp.MustCompile(`^\s*(.+?)\s*:\s+(.*?)\s*$`)
	locationPattern = regexp.MustCompile(`yeelight://([\d.]+):(\d+)`)
)

// transportHeaders are SSDP headers that describe the message, not the lamp.
// Keys are lower case.
var transportHeaders = map[string]bool{
	"location":      true,
	"cache-control": true,
	"date":          true,
	"ext":           true,
	"server":        true,
	"host":          true,
	"nts":           true,
	"nt":            true,
	"st":            true,
	"usn":           true,
	"man":           true,
}

// MessageKind says which SSDP message a datagram was.
type MessageKind int

// Message kinds.
const (
	MessageUnknown MessageKind = iota
	MessageNotify
	MessageResponse
)

// String returns the kind name for logging.
func (k MessageKind) String() string {
	switch k {
	case MessageNotify:
		return "notify"
	case MessageResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is a parsed lamp announcement.
type Message struct {
	Kind MessageKind

	// Record holds the lamp's own headers plus "ip" from Location.
	Record yeelight.RawRecord

	// Port is the control port from Location.
	Port string

	// Malformed lists header lines that did not parse.
	Malformed []string
}

// ParseMessage parses a NOTIFY or discovery response datagram into a raw
// lamp record. ok is false when the datagram is not a lamp announcement or
// has no usable Location header.
func ParseMessage(data []byte) (yeelight.RawRecord, bool) {
	msg, ok := parseMessage(data)
	if !ok {
		return nil, false
	}
	return msg.Record, true
}

// parseMessage does the work of ParseMessage and keeps the details the
// listener logs.
func parseMessage(data []byte) (Message, bool) {
	lines := strings.Split(string(data), "\n")

	var msg Message
	switch strings.TrimSpace(lines[0]) {
	case notifyLine:
		msg.Kind = MessageNotify
	case responseLine:
		msg.Kind = MessageResponse
	default:
		return Message{}, false
	}

	headers := make(map[string]string, len(lines))
	var location string
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			msg.Malformed = append(msg.Malformed, line)
			continue
		}

		name, value := m[1], m[2]
		if strings.EqualFold(name, "location") {
			location = value
		}
		if transportHeaders[strings.ToLower(name)] {
			continue
		}
		headers[name] = value
	}

	loc := locationPattern.FindStringSubmatch(location)
	if loc == nil {
		return Message{}, false
	}

	msg.Record = make(yeelight.RawRecord, len(headers)+1)
	for k, v := range headers {
		msg.Record[k] = v
	}
	msg.Record[string(yeelight.KeyAddress)] = loc[1]
	msg.Port = loc[2]
	return msg, true
}

// searchMessage is the M-SEARCH datagram lamps answer. It carries no HOST
// header and no trailing line break.
const searchMessage = "M-SEARCH * HTTP/1.1\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: wifi_bulb"
