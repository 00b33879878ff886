package upstream

import "bytes"

// LineSplitter cuts a byte feed into newline-terminated lines. Bytes after
// the last newline are carried over to the next Feed, so a protocol line is
// never split across two reads. Only '\n' is a cut point, which keeps
// multi-byte UTF-8 sequences intact.
//
// A LineSplitter belongs to a single stream and is not safe for concurrent use.
type LineSplitter struct {
	buf []byte
}

// Feed appends chunk and returns every line completed by it, without the
// trailing newline.
func (s *LineSplitter) Feed(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}
	// Drop consumed prefix so the backing array does not grow unbounded.
	if len(s.buf) == 0 {
		s.buf = s.buf[:0:0]
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (s *LineSplitter) Pending() int {
	return len(s.buf)
}
