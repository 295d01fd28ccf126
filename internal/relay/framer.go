package relay

import (
	"bytes"
	"fmt"
)

// MaxLineBytes bounds a single unterminated line held in the carry-over
// buffer.
const MaxLineBytes = 1 << 20

// Framer splits a byte stream into lines no matter where chunk boundaries
// fall. Bytes after the last newline of a chunk are carried over and
// prefixed to the next one.
type Framer struct {
	carry []byte
}

// Push consumes one chunk and returns every line it completes, without the
// trailing "\n" or "\r\n".
func (f *Framer) Push(chunk []byte) ([]string, error) {
	var lines []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.carry = append(f.carry, chunk...)
			break
		}

		var line []byte
		if len(f.carry) > 0 {
			line = append(f.carry, chunk[:i]...)
			f.carry = nil
		} else {
			line = chunk[:i]
		}
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		chunk = chunk[i+1:]
	}

	if len(f.carry) > MaxLineBytes {
		size := len(f.carry)
		f.carry = nil
		return lines, fmt.Errorf("event line exceeds %d bytes (%d buffered)", MaxLineBytes, size)
	}
	return lines, nil
}

// Flush returns the unterminated residual, if any, and resets the framer.
func (f *Framer) Flush() (string, bool) {
	if len(f.carry) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(f.carry, []byte{'\r'}))
	f.carry = nil
	return line, true
}

// Pending reports how many bytes are waiting for a newline.
func (f *Framer) Pending() int {
	return len(f.carry)
}
