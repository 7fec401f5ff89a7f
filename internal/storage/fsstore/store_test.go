package fsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/JonMunkholm/csvedit/internal/core"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RequiresRoot(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without root should fail")
	}
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "docs")
	if _, err := New(Options{Root: root}); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestStore_Read(t *testing.T) {
	s := newTestStore(t, Options{MaxFileSize: 16})
	writeFile(t, s.Root(), "data.csv", "\xEF\xBB\xBFa,b\n1,2\n")
	writeFile(t, s.Root(), "sub/inner.csv", "x\n")
	writeFile(t, s.Root(), "big.csv", "0123456789abcdefXYZ")
	ctx := context.Background()

	got, err := s.Read(ctx, "data.csv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "\uFEFFa,b\n1,2\n" {
		t.Errorf("Read = %q, want content unchanged", got)
	}

	if got, err := s.Read(ctx, "sub/inner.csv"); err != nil || got != "x\n" {
		t.Errorf("Read nested = %q, %v", got, err)
	}

	if _, err := s.Read(ctx, "big.csv"); !errors.Is(err, core.ErrFileTooLarge) {
		t.Errorf("Read oversized: err = %v, want ErrFileTooLarge", err)
	}

	if _, err := s.Read(ctx, "missing.csv"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing: err = %v, want not exist", err)
	}

	if _, err := s.Read(ctx, "sub"); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("Read directory: err = %v, want ErrInvalidHandle", err)
	}
}

func TestStore_RejectsEscapingHandles(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for _, handle := range []string{"", ".", "..", "../outside.csv", "a/../../outside.csv", "/etc/passwd", `..\outside.csv`} {
		if _, err := s.Read(ctx, handle); !errors.Is(err, core.ErrInvalidHandle) {
			t.Errorf("Read(%q): err = %v, want ErrInvalidHandle", handle, err)
		}
	}

	// Cleaned paths that stay inside the root are fine.
	writeFile(t, s.Root(), "ok.csv", "ok\n")
	if _, err := s.Read(ctx, "sub/../ok.csv"); err != nil {
		t.Errorf("Read inside root: %v", err)
	}
}

func TestStore_WriteNeverOverwrites(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		name := "exclusive"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, Options{Atomic: atomic})
			ctx := context.Background()

			want := []string{"File.csv", "File (1).csv", "File (2).csv"}
			for i, w := range want {
				handle, err := s.Write(ctx, "v\n", "File.csv")
				if err != nil {
					t.Fatalf("Write %d: %v", i, err)
				}
				if handle != w {
					t.Errorf("Write %d handle = %q, want %q", i, handle, w)
				}
			}

			got, err := s.Read(ctx, "File.csv")
			if err != nil || got != "v\n" {
				t.Errorf("Read back = %q, %v", got, err)
			}

			entries, err := os.ReadDir(s.Root())
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != len(want) {
				t.Errorf("root holds %d entries, want %d (temp files left behind?)", len(entries), len(want))
			}
		})
	}
}

func TestStore_WriteFlattensName(t *testing.T) {
	s := newTestStore(t, Options{Atomic: true})
	ctx := context.Background()

	handle, err := s.Write(ctx, "x\n", "../../evil.csv")
	if err != nil {
		t.Fatal(err)
	}
	if handle != "evil.csv" {
		t.Errorf("handle = %q, want evil.csv", handle)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "evil.csv")); err != nil {
		t.Errorf("file not written inside root: %v", err)
	}

	if _, err := s.Write(ctx, "x\n", "  "); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("Write blank name: err = %v, want ErrInvalidHandle", err)
	}
}

func TestStore_WriteCancelled(t *testing.T) {
	s := newTestStore(t, Options{Atomic: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Write(ctx, "x\n", "a.csv"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t, Options{})
	writeFile(t, s.Root(), "b.csv", "b\n")
	writeFile(t, s.Root(), "a.CSV", "a\n")
	writeFile(t, s.Root(), "notes.txt", "n\n")
	writeFile(t, s.Root(), "image.png", "png")
	writeFile(t, s.Root(), ".hidden.csv", "h\n")
	writeFile(t, s.Root(), ".cache/c.csv", "c\n")
	writeFile(t, s.Root(), "sub/d.csv", "d\n")

	docs, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"a.CSV", "b.csv", "notes.txt", "sub/d.csv"}
	if len(docs) != len(want) {
		t.Fatalf("List returned %d docs, want %d: %+v", len(docs), len(want), docs)
	}
	for i, w := range want {
		if docs[i].Handle != w {
			t.Errorf("docs[%d].Handle = %q, want %q", i, docs[i].Handle, w)
		}
	}
	if docs[3].Name != "d.csv" || docs[3].Size != 2 {
		t.Errorf("docs[3] = %+v", docs[3])
	}
}

func TestStore_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	s := newTestStore(t, Options{Atomic: true})
	writeFile(t, s.Root(), "locked.csv", "x\n")
	if err := os.Chmod(filepath.Join(s.Root(), "locked.csv"), 0o000); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(s.Root(), 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Chmod(s.Root(), 0o755)
		os.Chmod(filepath.Join(s.Root(), "locked.csv"), 0o644)
	})
	ctx := context.Background()

	if _, err := s.Read(ctx, "locked.csv"); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("Read: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := s.Write(ctx, "x\n", "new.csv"); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("Write: err = %v, want ErrPermissionDenied", err)
	}
}

func TestStore_ControllerRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{Atomic: true})
	writeFile(t, s.Root(), "in.csv", "name,qty\nwidget,1\n")
	ctx := context.Background()

	c := core.NewController(s, s, core.ControllerOptions{})
	if err := c.Load(ctx, "in.csv"); err != nil {
		t.Fatal(err)
	}
	if err := c.EditCell(ctx, 1, 1, "2"); err != nil {
		t.Fatal(err)
	}
	if err := c.EditCell(ctx, 2, 0, "gadget, large"); err != nil {
		t.Fatal(err)
	}
	result, err := c.Export(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), result.Handle))
	if err != nil {
		t.Fatal(err)
	}
	if want := "name,qty\nwidget,2\n\"gadget, large\"\n"; string(got) != want {
		t.Errorf("exported %q, want %q", got, want)
	}
}

func TestStore_LeadingBOMInFirstCellSurvives(t *testing.T) {
	s := newTestStore(t, Options{Atomic: true})
	writeFile(t, s.Root(), "in.csv", "\uFEFF\uFEFFid,name\n1,a\n")
	ctx := context.Background()

	c := core.NewController(s, s, core.ControllerOptions{})
	if err := c.Load(ctx, "in.csv"); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().Grid; got[0][0] != "\uFEFFid" {
		t.Fatalf("first cell = %q, want one BOM kept", got[0][0])
	}

	result, err := c.Export(ctx, "out.csv")
	if err != nil {
		t.Fatal(err)
	}
	text, err := s.Read(ctx, result.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if got := core.Parse(text); !got.OK() || got.Grid[0][0] != "\uFEFFid" {
		t.Errorf("re-parsed export = %q, want first cell %q", got.Grid, "\uFEFFid")
	}
}

func TestStore_SymlinksConfinedToRoot(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "secret.csv", "secret\n")

	s := newTestStore(t, Options{})
	writeFile(t, s.Root(), "real.csv", "inside\n")
	if err := os.Symlink(filepath.Join(outside, "secret.csv"), filepath.Join(s.Root(), "leak.csv")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(s.Root(), "linkdir")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("real.csv", filepath.Join(s.Root(), "alias.csv")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, handle := range []string{"leak.csv", "linkdir/secret.csv"} {
		if _, err := s.Read(ctx, handle); !errors.Is(err, core.ErrInvalidHandle) {
			t.Errorf("Read(%q): err = %v, want ErrInvalidHandle", handle, err)
		}
	}
	if got, err := s.Read(ctx, "alias.csv"); err != nil || got != "inside\n" {
		t.Errorf("Read(alias.csv) = %q, %v; want link inside the root followed", got, err)
	}

	docs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var handles []string
	for _, d := range docs {
		handles = append(handles, d.Handle)
	}
	if len(handles) != 2 || handles[0] != "alias.csv" || handles[1] != "real.csv" {
		t.Errorf("List handles = %v, want [alias.csv real.csv]", handles)
	}
}
