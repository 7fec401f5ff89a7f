package core

// input.go normalises raw document bytes before they reach the codec:
//
//   - BOMSkippingReader: drops the UTF-8 BOM (0xEF 0xBB 0xBF) written by Windows tools
//   - CountingReader: tracks bytes read and enforces a size limit
//   - ReadText: applies the limit and replaces invalid UTF-8 with U+FFFD
//
// Storage adapters call ReadText so every backend hands the controller the
// same kind of string. ReadText keeps a leading BOM: Codec.Parse drops exactly
// one, and stripping it here as well would eat a BOM that belongs to the first
// cell.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	reader  *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader. The first call checks for and discards the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		// Peek fails on inputs shorter than the BOM; those cannot carry one.
		if head, err := r.reader.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			if _, err := r.reader.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return r.reader.Read(p)
}

// CountingReader wraps an io.Reader to track bytes read. When Limit is
// positive, reading past it fails with ErrFileTooLarge.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Limit     int64
}

// NewCountingReader creates a counting reader. A limit <= 0 disables the check.
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{reader: r, Limit: limit}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.Limit)
	}
	return n, err
}

// ReadText reads all of r into a string, enforcing maxBytes (<= 0 for no
// limit) and replacing invalid UTF-8 sequences with the Unicode replacement
// character.
func ReadText(r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(NewCountingReader(r, maxBytes))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
