package tail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/telhawk-systems/homehawk/internal/eventfile"
)

// readChunk is how much of the file is read per call.
const readChunk = 64 * 1024

// tailer follows one file by offset. It reopens the file on every read so a
// removed or rotated file never pins a descriptor.
type tailer struct {
	path    string
	offset  int64
	partial []byte
	maxLine int
	// skipping discards the remainder of an oversized line.
	skipping bool
}

// newTailer starts at the current end of path when fromEnd is set, otherwise
// at offset 0. It fails with os.ErrNotExist while path is missing.
func newTailer(path string, fromEnd bool, maxLine int) (*tailer, error) {
	if maxLine <= 0 {
		maxLine = eventfile.DefaultMaxLineBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	t := &tailer{path: path, maxLine: maxLine}
	if fromEnd {
		t.offset = info.Size()
	}
	return t, nil
}

// lineResult is one complete line, or an oversized one to reject.
type lineResult struct {
	line []byte
	err  error
}

// readNew returns the complete lines appended since the last call. A trailing
// line without a newline is held back until it is terminated.
func (t *tailer) readNew() ([]lineResult, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
		t.skipping = false
	}
	if info.Size() == t.offset {
		return nil, nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var out []lineResult
	buf := make([]byte, readChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			t.offset += int64(n)
			out = t.split(buf[:n], out)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func (t *tailer) split(data []byte, out []lineResult) []lineResult {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if t.skipping {
				return out
			}
			t.partial = append(t.partial, data...)
			if len(t.partial) > t.maxLine {
				out = append(out, t.tooLong(t.partial))
				t.partial = nil
				t.skipping = true
			}
			return out
		}

		chunk := data[:i]
		data = data[i+1:]

		if t.skipping {
			t.skipping = false
			continue
		}

		line := append(t.partial, chunk...)
		t.partial = nil
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > t.maxLine {
			out = append(out, t.tooLong(line))
			continue
		}
		out = append(out, lineResult{line: line})
	}
	return out
}

func (t *tailer) tooLong(line []byte) lineResult {
	prefix := make([]byte, t.maxLine)
	copy(prefix, line)
	return lineResult{
		line: prefix,
		err:  fmt.Errorf("%w: exceeds %d bytes", eventfile.ErrLineTooLong, t.maxLine),
	}
}
