package source

// streaming.go cleans delimited text on its way into the CSV parser:
//
//   - the UTF-8 byte order mark Excel writes is dropped
//   - invalid UTF-8 bytes become '?'
//   - reading past the size limit fails with ErrFileTooLarge
//
// All three work on the stream, so memory stays bounded by the buffer size.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cleanText applies BOM stripping and UTF-8 sanitizing, in that order.
func cleanText(r io.Reader) io.Reader {
	return newUTF8Sanitizer(skipBOM(r))
}

// skipBOM drops a leading UTF-8 BOM.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte
// sequence split across two reads is held back until the next read.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to hand
// back. Unless atEOF, an incomplete trailing rune is moved to pending.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		if !atEOF {
			if tail := incompleteTail(data); tail > 0 {
				s.pending = append(s.pending, data[len(data)-tail:]...)
				return len(data) - tail
			}
		}
		return len(data)
	}

	w := 0
	for rd := 0; rd < len(data); {
		r, size := utf8.DecodeRune(data[rd:])
		if !atEOF && rd+size >= len(data) && runeLen(data[rd]) > len(data)-rd {
			s.pending = append(s.pending, data[rd:]...)
			return w
		}
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			rd++
			continue
		}
		copy(data[w:], data[rd:rd+size])
		w += size
		rd += size
	}
	return w
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// incompleteTail is the length of a truncated multi-byte rune at the end
// of data, or 0.
func incompleteTail(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < runeLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen is the encoded length implied by a leading byte.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// limitReader fails with ErrFileTooLarge once more than limit bytes have
// been read. A limit of 0 or less disables the check.
type limitReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		return 0, ErrFileTooLarge
	}
	return n, err
}
