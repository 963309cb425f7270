package stream

import (
	"bytes"
	"encoding/json"
)

// MetricPrefix marks a telemetry frame on the engine's stdout.
const MetricPrefix = "METRIC:"

// Kind is the classification of a single stdout frame.
type Kind int

const (
	// Ignored means the frame was empty after trimming.
	Ignored Kind = iota
	// Telemetry is a METRIC:-prefixed frame with a JSON object payload.
	Telemetry
	// Response is a bare JSON object frame.
	Response
	// Malformed is anything else; logged and dropped, never fatal.
	Malformed
)

// Classify categorizes a raw frame. For Telemetry the returned payload is
// the JSON object after the prefix; for Response it is the whole trimmed
// frame. Payload is nil for Ignored and Malformed.
func Classify(frame []byte) (Kind, json.RawMessage) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return Ignored, nil
	}

	if bytes.HasPrefix(trimmed, []byte(MetricPrefix)) {
		payload := bytes.TrimSpace(trimmed[len(MetricPrefix):])
		if !isJSONObject(payload) {
			return Malformed, nil
		}
		return Telemetry, json.RawMessage(payload)
	}

	if isJSONObject(trimmed) {
		return Response, json.RawMessage(trimmed)
	}
	return Malformed, nil
}

// isJSONObject reports whether b parses as JSON with an object root.
// json.Unmarshal alone would accept "null" for a map target, so the root
// token is checked explicitly.
func isJSONObject(b []byte) bool {
	if len(b) == 0 || b[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(b, &obj) == nil
}

// TruncateForLog bounds the offending bytes of a malformed frame before they
// reach the log.
func TruncateForLog(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
