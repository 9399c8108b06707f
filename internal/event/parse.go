package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("event parse error")

// previewLen bounds how much of a rejected line ends up in logs.
const previewLen = 120

// ParseError describes a line that could not become an Event.
type ParseError struct {
	Reason  string
	Preview string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse event: %s: %v (line: %q)", e.Reason, e.Err, e.Preview)
	}
	return fmt.Sprintf("parse event: %s (line: %q)", e.Reason, e.Preview)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}

// Preview truncates line for logging.
func Preview(line []byte) string {
	line = bytes.TrimSpace(line)
	if utf8.RuneCount(line) <= previewLen {
		return string(line)
	}
	runes := []rune(string(line))
	return string(runes[:previewLen]) + "…"
}

func parseError(line []byte, reason string, err error) *ParseError {
	return &ParseError{Reason: reason, Preview: Preview(line), Err: err}
}

// Parse decodes one NDJSON line. The envelope (type tag and time) must be
// present as non-empty strings; anything else about the payload is decoded
// leniently. Unrecognised type tags produce *Unknown.
func Parse(line []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, parseError(line, "invalid json", err)
	}
	if raw == nil {
		return nil, parseError(line, "not a json object", nil)
	}

	tag, ok := rawString(raw[TypeTag])
	if !ok || tag == "" {
		return nil, parseError(line, "missing or malformed "+TypeTag, nil)
	}
	ts, ok := rawString(raw["time"])
	if !ok || ts == "" {
		return nil, parseError(line, "missing or malformed time", nil)
	}
	env := Envelope{Tag: tag, Timestamp: ts}

	switch tag {
	case TypeDeviceServiceData:
		e := &DeviceServiceData{
			Envelope: env,
			ID:       text(raw["id"]),
			DeviceID: text(raw["deviceId"]),
			Path:     text(raw["path"]),
		}
		e.State = decodeFields(raw["state"])
		return e, nil

	case TypeDevice:
		return &Device{
			Envelope:    env,
			ID:          text(raw["id"]),
			Name:        text(raw["name"]),
			DeviceModel: text(raw["deviceModel"]),
			RoomID:      text(raw["roomId"]),
		}, nil

	case TypeRoom:
		e := &Room{
			Envelope: env,
			ID:       text(raw["id"]),
			Name:     text(raw["name"]),
			IconID:   text(raw["iconId"]),
		}
		e.ExtProperties = decodeFields(raw["extProperties"])
		return e, nil

	case TypeMessage:
		return &Message{
			Envelope:   env,
			ID:         text(raw["id"]),
			Code:       messageCode(raw["messageCode"]),
			SourceType: text(raw["sourceType"]),
			SourceID:   text(raw["sourceId"]),
		}, nil

	case TypeClient:
		return &Client{
			Envelope:   env,
			ID:         text(raw["id"]),
			Name:       text(raw["name"]),
			ClientType: text(raw["clientType"]),
		}, nil

	case TypeLight:
		return &Light{
			Envelope: env,
			ID:       text(raw["id"]),
			Name:     text(raw["name"]),
		}, nil
	}

	e := &Unknown{Envelope: env, Payload: bytes.TrimSpace(line)}
	e.ID, e.HasID = rawText(raw["id"])
	e.DeviceID, e.HasDeviceID = rawText(raw["deviceId"])
	return e, nil
}

// decodeFields returns the members of a JSON object in order. Anything that is
// not an object yields no fields, so the event keeps its identity but carries
// no metric.
func decodeFields(raw json.RawMessage) Fields {
	if len(raw) == 0 {
		return nil
	}
	var f Fields
	if err := f.UnmarshalJSON(raw); err != nil {
		return nil
	}
	return f
}

// rawString returns the value when raw is a JSON string.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawText stringifies any JSON value: strings are unquoted, everything else
// keeps its compact JSON text. null and absent values report false.
func rawText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if s, ok := rawString(raw); ok {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

func text(raw json.RawMessage) string {
	s, _ := rawText(raw)
	return s
}

// messageCode accepts either {"name": "..."} or a bare string.
func messageCode(raw json.RawMessage) string {
	var code struct {
		Name json.RawMessage `json:"name"`
	}
	if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &code) == nil {
		return text(code.Name)
	}
	return text(raw)
}
