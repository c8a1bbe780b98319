package codes

// reader.go cleans up uploaded files before they reach the CSV parser.
//
// Spreadsheet exports from Windows commonly start with a UTF-8 BOM and
// sometimes carry stray Latin-1 bytes. Both would otherwise end up inside the
// first code or break header matching.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CleanReader skips a leading UTF-8 BOM and replaces invalid UTF-8 bytes
// with '?'. Memory use is bounded by the underlying buffer.
type CleanReader struct {
	br         *bufio.Reader
	bomChecked bool

	// BytesRead counts bytes consumed from the source, BOM included.
	BytesRead int64
}

// NewCleanReader wraps r.
func NewCleanReader(r io.Reader) *CleanReader {
	c := &CleanReader{}
	c.br = bufio.NewReader(&countingReader{r: r, n: &c.BytesRead})
	return c
}

// Read implements io.Reader.
func (c *CleanReader) Read(p []byte) (int, error) {
	if !c.bomChecked {
		c.bomChecked = true
		if head, _ := c.br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
			_, _ = c.br.Discard(len(utf8BOM))
		}
	}

	n := 0
	for n < len(p) {
		// Stop before a rune that would not fit, unless nothing was written yet.
		if n > 0 && c.br.Buffered() == 0 {
			return n, nil
		}
		r, size, err := c.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}

		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}
		if n+size > len(p) {
			_ = c.br.UnreadRune()
			if n == 0 {
				// p cannot hold even one rune; degrade it to '?'.
				_, _, _ = c.br.ReadRune()
				p[0] = '?'
				return 1, nil
			}
			return n, nil
		}
		n += utf8.EncodeRune(p[n:], r)
	}
	return n, nil
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}
