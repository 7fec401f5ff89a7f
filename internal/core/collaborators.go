package core

import (
	"context"
	"time"
)

// DefaultExportName is the file name used when an export does not name one.
const DefaultExportName = "File.csv"

// FileReader returns the full text of the document addressed by handle.
// Implementations wrap ErrPermissionDenied (or fs.ErrPermission) when access
// is refused.
type FileReader interface {
	Read(ctx context.Context, handle string) (string, error)
}

// FileWriter persists text as a new document and returns its handle.
// suggestedName is a hint; implementations may alter it to avoid clashes.
type FileWriter interface {
	Write(ctx context.Context, text, suggestedName string) (string, error)
}

// DocumentLister enumerates documents a caller may pick from.
type DocumentLister interface {
	List(ctx context.Context) ([]DocumentInfo, error)
}

// Store is a storage backend that can serve every collaborator role.
type Store interface {
	FileReader
	FileWriter
	DocumentLister
}

// DocumentInfo describes one stored document.
type DocumentInfo struct {
	Handle  string    `json:"handle"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// RawDocument is unparsed document text plus where it came from.
// Handle is opaque to the core and only meaningful to storage.
type RawDocument struct {
	Handle string
	Name   string
	Text   string
}
