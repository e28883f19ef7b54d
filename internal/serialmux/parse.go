package serialmux

import "strings"

const (
	EventTypeReportHeader = "report_header"
	EventTypeIQData       = "iq_data"
	EventTypeResponse     = "command_response"
	EventTypeUnknown      = "unknown"
)

// ClassifyPayload inspects a payload string and returns a simple event type
// token. The classification is intentionally conservative: anything that is
// not a report header, IQ sample line, or command acknowledgement is treated
// as unknown (typically firmware boot chatter).
func ClassifyPayload(payload string) string {
	trimmed := strings.TrimSpace(payload)
	switch {
	case strings.Contains(trimmed, "== Basic Report =="):
		return EventTypeReportHeader
	case strings.HasPrefix(trimmed, "IQ:"):
		return EventTypeIQData
	case strings.HasPrefix(trimmed, "$OK") || strings.HasPrefix(trimmed, "$ERR"):
		return EventTypeResponse
	}
	return EventTypeUnknown
}

// CommandResponse is a parsed radio acknowledgement line:
// $OK,NAME[,key=value...] or $ERR,NAME[,key=value...].
type CommandResponse struct {
	OK      bool              `json:"ok"`
	Command string            `json:"command"`
	Fields  map[string]string `json:"fields,omitempty"`
	Raw     string            `json:"raw"`
}

// ParseResponse parses an acknowledgement line. The second return value is
// false for anything that is not a $OK/$ERR line.
func ParseResponse(payload string) (CommandResponse, bool) {
	trimmed := strings.TrimSpace(payload)

	var ok bool
	switch {
	case strings.HasPrefix(trimmed, "$OK"):
		ok = true
	case strings.HasPrefix(trimmed, "$ERR"):
		ok = false
	default:
		return CommandResponse{}, false
	}

	resp := CommandResponse{OK: ok, Raw: trimmed}
	parts := strings.Split(trimmed, ",")
	if len(parts) < 2 {
		// bare "$OK" / "$ERR" ack with no command name
		return resp, true
	}
	resp.Command = strings.TrimSpace(parts[1])
	for _, part := range parts[2:] {
		k, v, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		if resp.Fields == nil {
			resp.Fields = make(map[string]string)
		}
		resp.Fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return resp, true
}
