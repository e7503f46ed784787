package fsops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anthropics/midstream/internal/domain"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	mustWrite(t, filepath.Join(root, "a.txt"), "alpha")
	mustWrite(t, filepath.Join(root, "sub", "b.txt"), "bravo\nBETA line")
	mustWrite(t, filepath.Join(root, "sub", "c.go"), "package c\nfunc Main() {}")
	mustWrite(t, filepath.Join(root, "bin.dat"), "head\x00tail")

	l, err := NewLocal([]string{root})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l, root
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewLocal_NoRoots(t *testing.T) {
	if _, err := NewLocal(nil); !errors.Is(err, domain.ErrNoRootsAllowed) {
		t.Fatalf("err = %v, want ErrNoRootsAllowed", err)
	}
}

func TestReadFile(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	got, err := l.ReadFile(ctx, filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "alpha" {
		t.Errorf("content = %q, want alpha", got)
	}

	if _, err := l.ReadFile(ctx, filepath.Join(root, "sub")); !errors.Is(err, domain.ErrNotAFile) {
		t.Errorf("reading a directory: err = %v, want ErrNotAFile", err)
	}
	if _, err := l.ReadFile(ctx, filepath.Join(root, "missing.txt")); err == nil {
		t.Error("reading missing file: want error")
	}
}

func TestContainment(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	evil := root + "-evil"
	mustWrite(t, filepath.Join(evil, "f.txt"), "outside")

	cases := []string{
		"/etc/passwd",
		filepath.Join(evil, "f.txt"),
		filepath.Join(root, "..", "root-evil", "f.txt"),
		"../outside.txt",
	}
	for _, path := range cases {
		if _, err := l.ReadFile(ctx, path); !errors.Is(err, domain.ErrPathOutsideRoots) {
			t.Errorf("ReadFile(%q): err = %v, want ErrPathOutsideRoots", path, err)
		}
	}

	// Traversal that stays inside the root is fine.
	if _, err := l.ReadFile(ctx, filepath.Join(root, "sub", "..", "a.txt")); err != nil {
		t.Errorf("in-root traversal: %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	target := filepath.Join(root, "new", "deep", "out.txt")
	if err := l.WriteFile(ctx, target, "payload"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	if err := l.WriteFile(ctx, "/etc/hacked", "x"); !errors.Is(err, domain.ErrPathOutsideRoots) {
		t.Errorf("write outside: err = %v, want ErrPathOutsideRoots", err)
	}
}

func TestListDirectory(t *testing.T) {
	l, root := newTestLocal(t)

	entries, err := l.ListDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	want := []domain.DirEntry{
		{Name: "a.txt", Kind: domain.EntryFile, Size: 5},
		{Name: "bin.dat", Kind: domain.EntryFile, Size: 9},
		{Name: "sub", Kind: domain.EntryDirectory},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFiles(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	direct, err := l.SearchFiles(ctx, root, "*.txt")
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if diff := cmp.Diff([]string{filepath.Join(root, "a.txt")}, direct); diff != "" {
		t.Errorf("direct matches mismatch (-want +got):\n%s", diff)
	}

	recursive, err := l.SearchFiles(ctx, root, "**/*.txt")
	if err != nil {
		t.Fatalf("SearchFiles recursive: %v", err)
	}
	wantRec := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
	}
	if diff := cmp.Diff(wantRec, recursive); diff != "" {
		t.Errorf("recursive matches mismatch (-want +got):\n%s", diff)
	}

	if _, err := l.SearchFiles(ctx, root, ""); !errors.Is(err, domain.ErrInvalidPattern) {
		t.Errorf("empty pattern: err = %v, want ErrInvalidPattern", err)
	}
	var engErr *domain.EngineError
	if _, err := l.SearchFiles(ctx, root, "["); !errors.As(err, &engErr) || engErr.Code != domain.ErrInvalidPattern.Code {
		t.Errorf("bad glob: err = %v, want invalid-pattern code", err)
	}
}

func TestGrepFiles(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	matches, err := l.GrepFiles(ctx, root, "beta")
	if err != nil {
		t.Fatalf("GrepFiles: %v", err)
	}
	want := []domain.GrepMatch{
		{File: filepath.Join(root, "sub", "b.txt"), Line: 2, Text: "BETA line"},
	}
	if diff := cmp.Diff(want, matches); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}

	single, err := l.GrepFiles(ctx, filepath.Join(root, "sub", "c.go"), "func")
	if err != nil {
		t.Fatalf("GrepFiles single file: %v", err)
	}
	if len(single) != 1 || single[0].Line != 2 {
		t.Errorf("single-file matches = %+v", single)
	}

	binary, err := l.GrepFiles(ctx, root, "tail")
	if err != nil {
		t.Fatalf("GrepFiles binary: %v", err)
	}
	if len(binary) != 0 {
		t.Errorf("binary file was scanned: %+v", binary)
	}

	var engErr *domain.EngineError
	if _, err := l.GrepFiles(ctx, root, "("); !errors.As(err, &engErr) || engErr.Code != domain.ErrInvalidPattern.Code {
		t.Errorf("bad regexp: err = %v, want invalid-pattern code", err)
	}
}

func TestChangeDirectory(t *testing.T) {
	l, root := newTestLocal(t)
	ctx := context.Background()

	if dir, err := l.CurrentDirectory(ctx); err != nil || dir != root {
		t.Fatalf("initial dir = %q, %v; want root", dir, err)
	}

	resolved, err := l.ChangeDirectory(ctx, "sub")
	if err != nil {
		t.Fatalf("ChangeDirectory: %v", err)
	}
	if resolved != filepath.Join(root, "sub") {
		t.Errorf("resolved = %q", resolved)
	}

	// Relative paths now resolve against the new directory.
	got, err := l.ReadFile(ctx, "b.txt")
	if err != nil {
		t.Fatalf("relative ReadFile: %v", err)
	}
	if got != "bravo\nBETA line" {
		t.Errorf("content = %q", got)
	}

	if _, err := l.ChangeDirectory(ctx, "b.txt"); !errors.Is(err, domain.ErrNotADirectory) {
		t.Errorf("cd to file: err = %v, want ErrNotADirectory", err)
	}
	if _, err := l.ChangeDirectory(ctx, "/"); !errors.Is(err, domain.ErrPathOutsideRoots) {
		t.Errorf("cd outside: err = %v, want ErrPathOutsideRoots", err)
	}
}

func TestCreateDirectoryAndRoots(t *testing.T) {
	l, root := newTestLocal(t)

	created, err := l.CreateDirectory(context.Background(), "nested/dirs")
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	info, err := os.Stat(created)
	if err != nil || !info.IsDir() {
		t.Errorf("created = %q, stat: %v", created, err)
	}

	roots := l.AllowedRoots()
	if len(roots) != 1 || roots[0] != root {
		t.Errorf("AllowedRoots = %v", roots)
	}
	roots[0] = "/tampered"
	if l.AllowedRoots()[0] != root {
		t.Error("AllowedRoots returned internal slice")
	}
}
