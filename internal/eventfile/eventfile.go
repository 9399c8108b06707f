// Package eventfile maps between calendar days and the NDJSON files and
// indices that hold each day's events.
package eventfile

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// DateLayout is the layout of the date token embedded in file and index names.
const DateLayout = "2006-01-02"

// Extension is the suffix of every event file.
const Extension = ".ndjson"

var dateToken = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2})\.ndjson$`)

// Name returns the file name holding events of the day t falls on.
func Name(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", prefix, t.Format(DateLayout), Extension)
}

// Path joins dir and Name.
func Path(dir, prefix string, t time.Time) string {
	return filepath.Join(dir, Name(prefix, t))
}

// DefaultPattern matches every historical event file in dir.
func DefaultPattern(dir, prefix string) string {
	return filepath.Join(dir, prefix+"-*"+Extension)
}

// DateToken extracts the YYYY-MM-DD token from a name like
// "events-2025-01-31.ndjson". The token must be a real calendar date.
func DateToken(path string) (string, bool) {
	m := dateToken.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	if _, err := time.Parse(DateLayout, m[1]); err != nil {
		return "", false
	}
	return m[1], true
}

// IndexName returns the index receiving the documents of path. Files without
// a date token go to the index of now.
func IndexName(indexPrefix, path string, now time.Time) string {
	token, ok := DateToken(path)
	if !ok {
		token = now.Format(DateLayout)
	}
	return indexPrefix + "-" + token
}

// IsEventFile reports whether path is an event file of the given prefix.
func IsEventFile(prefix, path string) bool {
	base := filepath.Base(path)
	if _, ok := DateToken(base); !ok {
		return false
	}
	return len(base) == len(prefix)+len("-2006-01-02")+len(Extension) && base[:len(prefix)] == prefix
}
