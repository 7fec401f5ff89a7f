// Package fsstore stores CSV documents as files under a root directory.
//
// Handles are slash-separated paths relative to the root. Reads are size
// limited and normalised with core.ReadText. Writes go to a temp file in the
// target directory and are renamed into place; an existing file is never
// overwritten, a clashing name gets a " (1)", " (2)", ... suffix instead.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/csvedit/internal/core"
)

// maxNameAttempts bounds the " (n)" suffix search.
const maxNameAttempts = 1000

// Options configures a Store.
type Options struct {
	// Root is the directory documents live in (required).
	Root string
	// MaxFileSize is the largest readable document in bytes; <= 0 disables the check.
	MaxFileSize int64
	// Atomic writes through a temp file in the target directory.
	Atomic bool
	// PermFile and PermDir default to 0o644 and 0o755.
	PermFile os.FileMode
	PermDir  os.FileMode
	// Extensions limits List to these suffixes (default ".csv", ".txt").
	Extensions []string
}

// Store implements core.Store on the local filesystem.
type Store struct {
	root    string
	maxSize int64
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	exts    []string
}

var _ core.Store = (*Store)(nil)

// New creates a Store, creating Root if it does not exist.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("fsstore: root directory is required")
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".csv", ".txt"}
	}
	if err := os.MkdirAll(opts.Root, pd); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", permission(err))
	}
	return &Store{
		root:    opts.Root,
		maxSize: opts.MaxFileSize,
		atomic:  opts.Atomic,
		permF:   pf,
		permD:   pd,
		exts:    exts,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// mapPath resolves a handle to a path under root, rejecting absolute paths,
// parent escapes and volume names.
func (s *Store) mapPath(handle string) (string, error) {
	rel := path.Clean(strings.ReplaceAll(strings.TrimSpace(handle), `\`, "/"))
	switch {
	case rel == "." || rel == "" || rel == "/":
		return "", fmt.Errorf("%w: %q", core.ErrInvalidHandle, handle)
	case path.IsAbs(rel) || filepath.IsAbs(rel):
		return "", fmt.Errorf("%w: %q is absolute", core.ErrInvalidHandle, handle)
	case rel == ".." || strings.HasPrefix(rel, "../"):
		return "", fmt.Errorf("%w: %q escapes the root", core.ErrInvalidHandle, handle)
	case filepath.VolumeName(rel) != "":
		return "", fmt.Errorf("%w: %q has a volume name", core.ErrInvalidHandle, handle)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// confine resolves symlinks in p and rejects targets outside the real root.
// The resolved path is returned so the caller opens what was checked.
func (s *Store) confine(p, handle string) (string, error) {
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", permission(err)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", permission(err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves outside the root", core.ErrInvalidHandle, handle)
	}
	return resolved, nil
}

// Read implements core.FileReader.
func (s *Store) Read(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p, err := s.mapPath(handle)
	if err != nil {
		return "", err
	}
	p, err = s.confine(p, handle)
	if err != nil {
		return "", err
	}

	f, err := os.Open(p)
	if err != nil {
		return "", permission(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q is a directory", core.ErrInvalidHandle, handle)
	}

	return core.ReadText(f, s.maxSize)
}

// Write implements core.FileWriter. The returned handle is the name actually used.
func (s *Store) Write(ctx context.Context, text, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := path.Base(strings.ReplaceAll(strings.TrimSpace(suggestedName), `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", fmt.Errorf("%w: bad file name %q", core.ErrInvalidHandle, suggestedName)
	}

	if s.atomic {
		return s.writeAtomic(text, name)
	}
	return s.writeExclusive(text, name)
}

// writeExclusive creates the first free candidate name with O_EXCL.
func (s *Store) writeExclusive(text, name string) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		candidate := numberedName(name, i)
		f, err := os.OpenFile(filepath.Join(s.root, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, s.permF)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", permission(err)
		}
		if _, err := f.WriteString(text); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", permission(err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %q after %d attempts", name, maxNameAttempts)
}

// writeAtomic writes a temp file, then links it to the first free name so a
// concurrent writer can never be overwritten.
func (s *Store) writeAtomic(text, name string) (string, error) {
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", permission(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := os.Chmod(tmpPath, s.permF); err != nil {
		tmp.Close()
		return "", permission(err)
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return "", permission(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	for i := 0; i < maxNameAttempts; i++ {
		candidate := numberedName(name, i)
		err := os.Link(tmpPath, filepath.Join(s.root, candidate))
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", permission(err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %q after %d attempts", name, maxNameAttempts)
}

// numberedName returns name for n == 0 and "base (n).ext" otherwise.
func numberedName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// List implements core.DocumentLister. Entries are sorted by handle; hidden
// files and directories are skipped, as are symlinks leading outside the root.
func (s *Store) List(ctx context.Context) ([]core.DocumentInfo, error) {
	var docs []core.DocumentInfo

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return permission(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != s.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.listed(d.Name()) {
			return nil
		}
		var info fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			// Only list links Read would follow.
			resolved, err := s.confine(p, d.Name())
			if err != nil {
				return nil
			}
			if info, err = os.Stat(resolved); err != nil || info.IsDir() {
				return nil
			}
		} else if info, err = d.Info(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		docs = append(docs, core.DocumentInfo{
			Handle:  filepath.ToSlash(rel),
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Handle < docs[j].Handle })
	return docs, nil
}

func (s *Store) listed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.exts {
		if ext == e {
			return true
		}
	}
	return false
}

// permission tags permission errors with core.ErrPermissionDenied.
func permission(err error) error {
	if err != nil && errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", core.ErrPermissionDenied, err)
	}
	return err
}
