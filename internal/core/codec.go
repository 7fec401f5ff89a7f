package core

// codec.go converts between CSV text and a Grid.
//
// Reading goes through encoding/csv with strict quoting so malformed records are
// reported instead of silently repaired. Writing is done by hand because the
// encoding/csv writer also quotes fields with leading spaces, and the export
// format quotes only fields that contain the delimiter, a quote, CR or LF.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultComma is the field delimiter used when a Codec does not set one.
const DefaultComma = ','

// Codec parses and serializes CSV text. The zero value uses a comma delimiter
// and LF record terminators.
type Codec struct {
	// Comma is the field delimiter (default ',').
	Comma rune

	// CRLF terminates serialized records with "\r\n" instead of "\n".
	// Both are accepted when parsing.
	CRLF bool
}

// ParseError describes one malformed record. Row is the zero-based ordinal of
// the record in the input, counting malformed records as well.
type ParseError struct {
	Row     int
	Line    int // 1-based input line where the error was detected
	Column  int // 1-based byte column, 0 if unknown
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("row %d (line %d, column %d): %s", e.Row, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseResult is the outcome of one Parse call. Grid holds every record that
// parsed cleanly, in input order. Errors is empty on success.
type ParseResult struct {
	Grid   Grid
	Errors []*ParseError
}

// OK reports whether the input parsed without errors.
func (r ParseResult) OK() bool {
	return len(r.Errors) == 0
}

// Parse parses text with the default codec.
func Parse(text string) ParseResult {
	return Codec{}.Parse(text)
}

// Serialize serializes g with the default codec.
func Serialize(g Grid) string {
	return Codec{}.Serialize(g)
}

func (c Codec) comma() rune {
	if c.Comma == 0 {
		return DefaultComma
	}
	return c.Comma
}

func (c Codec) lineEnding() string {
	if c.CRLF {
		return "\r\n"
	}
	return "\n"
}

// Parse splits text into records honoring CSV quoting. A leading UTF-8 BOM is
// dropped and blank lines are skipped.
//
// A malformed record is recorded as a ParseError and parsing resumes at the
// next record. An unterminated quoted field swallows the rest of the input, so
// nothing after it is parsed. Parse keeps no state between calls.
func (c Codec) Parse(text string) ParseResult {
	r := csv.NewReader(NewBOMSkippingReader(strings.NewReader(text)))
	r.Comma = c.comma()
	r.FieldsPerRecord = -1

	result := ParseResult{Grid: Grid{}}

	for record := 0; ; record++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				result.Errors = append(result.Errors, &ParseError{
					Row:     record,
					Line:    csvErr.Line,
					Column:  csvErr.Column,
					Message: csvErr.Err.Error(),
					Err:     csvErr.Err,
				})
				continue
			}
			// Only reachable if the underlying reader fails; the input is an
			// in-memory string, so stop with what we have.
			result.Errors = append(result.Errors, &ParseError{
				Row:     record,
				Message: err.Error(),
				Err:     err,
			})
			break
		}
		result.Grid = append(result.Grid, Row(fields))
	}

	return result
}

// Serialize writes g as CSV text. Every record, including the last, ends with
// the codec's line ending. Rows with no cells or a single empty cell are
// written as "" so they are not read back as blank lines. A field starting
// with U+FEFF is quoted so Parse does not take it for a file BOM.
//
// The output depends only on g and the codec settings.
func (c Codec) Serialize(g Grid) string {
	var b strings.Builder
	comma := c.comma()
	eol := c.lineEnding()

	for _, row := range g {
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			b.WriteString(`""`)
			b.WriteString(eol)
			continue
		}
		for i, field := range row {
			if i > 0 {
				b.WriteRune(comma)
			}
			c.writeField(&b, field, comma)
		}
		b.WriteString(eol)
	}

	return b.String()
}

func (c Codec) writeField(b *strings.Builder, field string, comma rune) {
	if !fieldNeedsQuotes(field, comma) && !strings.HasPrefix(field, "\uFEFF") {
		b.WriteString(field)
		return
	}
	b.WriteByte('"')
	b.WriteString(strings.ReplaceAll(field, `"`, `""`))
	b.WriteByte('"')
}

// fieldNeedsQuotes reports whether field contains the delimiter, a quote or a
// line break.
func fieldNeedsQuotes(field string, comma rune) bool {
	if field == "" {
		return false
	}
	return strings.ContainsRune(field, comma) || strings.ContainsAny(field, "\"\r\n")
}
