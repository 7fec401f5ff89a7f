package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	data := "hello world"

	r := NewCountingReader(strings.NewReader(data), 0)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BytesRead != int64(len(data)) {
		t.Errorf("BytesRead = %d, want %d", r.BytesRead, len(data))
	}

	r = NewCountingReader(strings.NewReader(data), 5)
	_, err := io.ReadAll(r)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestReadText(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		limit    int64
		expected string
		wantErr  error
	}{
		{
			name:     "plain text",
			input:    []byte("a,b\n1,2\n"),
			expected: "a,b\n1,2\n",
		},
		{
			name:     "BOM left for the codec",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, "a,b\n"...),
			expected: "\uFEFFa,b\n",
		},
		{
			name:     "invalid UTF-8 replaced",
			input:    []byte{'a', 0xFF, 'b'},
			expected: "a\uFFFDb",
		},
		{
			name:     "exactly at limit",
			input:    []byte("12345"),
			limit:    5,
			expected: "12345",
		},
		{
			name:    "over limit",
			input:   []byte("123456"),
			limit:   5,
			wantErr: ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadText(bytes.NewReader(tt.input), tt.limit)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
