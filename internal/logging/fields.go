package logging

import "log/slog"

// Common field names for consistent logging across packages.
const (
	FieldRunID     = "run_id"
	FieldFile      = "file"
	FieldIndex     = "index"
	FieldEventType = "event_type"
	FieldDocID     = "doc_id"
	FieldCount     = "count"
	FieldError     = "error"
	FieldPreview   = "preview"
	FieldLine      = "line"
)

// File returns a slog attribute for an event file path.
func File(path string) slog.Attr {
	return slog.String(FieldFile, path)
}

// Index returns a slog attribute for a target index name.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

// EventType returns a slog attribute for an event type tag.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// DocID returns a slog attribute for a document identity.
func DocID(id string) slog.Attr {
	return slog.String(FieldDocID, id)
}

// Count returns a slog attribute for a counter value.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Line returns a slog attribute for a 1-based line number.
func Line(n int) slog.Attr {
	return slog.Int(FieldLine, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
