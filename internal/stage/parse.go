package stage

import "strings"

const (
	ResponseAck      = "ack"
	ResponseError    = "error"
	ResponsePosition = "position"
	ResponseUnknown  = "unknown"
)

// ClassifyResponse inspects a controller response line and returns a simple
// event type token. The classification is intentionally conservative: an
// unrecognised line is reported rather than guessed at.
func ClassifyResponse(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "OK"):
		return ResponseAck
	case strings.HasPrefix(trimmed, "ERR"):
		return ResponseError
	case strings.HasPrefix(trimmed, "POS"):
		return ResponsePosition
	default:
		return ResponseUnknown
	}
}
