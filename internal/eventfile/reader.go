package eventfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single event line when no limit is configured.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned for lines over the reader's limit. The line is
// consumed; the returned prefix is only good for a preview.
var ErrLineTooLong = errors.New("line too long")

// Reader yields the non-blank lines of an NDJSON stream.
type Reader struct {
	r       *bufio.Reader
	max     int
	lineNum int
}

// NewReader wraps r. A maxBytes of 0 or less selects DefaultMaxLineBytes.
func NewReader(r io.Reader, maxBytes int) *Reader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}
	return &Reader{r: bufio.NewReader(r), max: maxBytes}
}

// LineNumber is the 1-based number of the line last returned.
func (r *Reader) LineNumber() int {
	return r.lineNum
}

// Next returns the next non-blank line without its terminator. It returns
// io.EOF once the stream is exhausted. A final line without a newline is
// still returned.
func (r *Reader) Next() ([]byte, error) {
	for {
		line, tooLong, err := r.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(line) == 0 && !tooLong && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		r.lineNum++

		line = bytes.TrimRight(line, "\r\n")
		if tooLong {
			return line, fmt.Errorf("%w: line %d exceeds %d bytes", ErrLineTooLong, r.lineNum, r.max)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		return line, nil
	}
}

func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > r.max+1 {
				tooLong = true
				room := r.max - len(line)
				if room > 0 {
					line = append(line, chunk[:room]...)
				}
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}
