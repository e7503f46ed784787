// Package fsops implements the local filesystem backend confined to a set of
// allowed roots.
package fsops

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/anthropics/midstream/internal/dispatch"
	"github.com/anthropics/midstream/internal/domain"
)

// Local serves filesystem operations against the host filesystem. Every path
// must resolve inside one of the allowed roots. Relative paths resolve
// against a per-instance working directory, so each session carries its own
// directory without touching process state.
type Local struct {
	roots []string

	mu  sync.Mutex
	cwd string
}

var _ dispatch.Backend = (*Local)(nil)

// NewLocal builds a Local allowing access under the given roots. The first
// root becomes the initial working directory.
func NewLocal(roots []string) (*Local, error) {
	if len(roots) == 0 {
		return nil, domain.ErrNoRootsAllowed
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", r, err)
		}
		abs = append(abs, filepath.Clean(a))
	}
	return &Local{roots: abs, cwd: abs[0]}, nil
}

// AllowedRoots returns the configured roots.
func (l *Local) AllowedRoots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}

// ReadFile returns the full content of a regular file.
func (l *Local) ReadFile(ctx context.Context, path string) (string, error) {
	p, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return "", domain.ErrNotAFile
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// WriteFile writes body to path, creating parent directories as needed.
func (l *Local) WriteFile(ctx context.Context, path, body string) error {
	p, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ListDirectory returns the entries of a directory sorted by name.
func (l *Local) ListDirectory(ctx context.Context, path string) ([]domain.DirEntry, error) {
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	entries := make([]domain.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := domain.DirEntry{Name: de.Name(), Kind: domain.EntryFile}
		if de.IsDir() {
			e.Kind = domain.EntryDirectory
		} else if info, ierr := de.Info(); ierr == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SearchFiles matches file names under path against a glob pattern. A
// pattern of the form "**/tail" matches tail anywhere below path; plain
// patterns match direct children only.
func (l *Local) SearchFiles(ctx context.Context, path, pattern string) ([]string, error) {
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, domain.ErrInvalidPattern
	}
	if strings.Contains(pattern, "**") {
		return walkSearch(p, pattern)
	}
	matches, err := filepath.Glob(filepath.Join(p, pattern))
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrInvalidPattern.Code, "search files", err)
	}
	return matches, nil
}

func walkSearch(root, pattern string) ([]string, error) {
	base := pattern
	if i := strings.LastIndex(pattern, "/"); i >= 0 {
		base = pattern[i+1:]
	}
	if _, err := filepath.Match(base, "probe"); err != nil {
		return nil, domain.WrapEngineError(domain.ErrInvalidPattern.Code, "search files", err)
	}
	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		if p == root {
			return nil
		}
		if ok, _ := filepath.Match(base, d.Name()); ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	return matches, nil
}

// GrepFiles scans file contents under path for a case-insensitive pattern.
// Path may name a single file or a directory to walk. Binary files are
// skipped.
func (l *Local) GrepFiles(ctx context.Context, path, pattern string) ([]domain.GrepMatch, error) {
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrInvalidPattern.Code, "grep files", err)
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("grep files: %w", err)
	}
	if !info.IsDir() {
		return grepFile(p, re), nil
	}

	var matches []domain.GrepMatch
	werr := filepath.WalkDir(p, func(fp string, d fs.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return nil
		}
		matches = append(matches, grepFile(fp, re)...)
		return nil
	})
	if werr != nil {
		return nil, fmt.Errorf("grep files: %w", werr)
	}
	return matches, nil
}

func grepFile(path string, re *regexp.Regexp) []domain.GrepMatch {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil
	}

	var matches []domain.GrepMatch
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if re.MatchString(text) {
			matches = append(matches, domain.GrepMatch{File: path, Line: line, Text: text})
		}
	}
	return matches
}

// ChangeDirectory moves the working directory and returns the resolved path.
func (l *Local) ChangeDirectory(ctx context.Context, path string) (string, error) {
	p, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("change directory: %w", err)
	}
	if !info.IsDir() {
		return "", domain.ErrNotADirectory
	}
	l.mu.Lock()
	l.cwd = p
	l.mu.Unlock()
	return p, nil
}

// CurrentDirectory returns the working directory.
func (l *Local) CurrentDirectory(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cwd, nil
}

// CreateDirectory creates a directory and any missing parents.
func (l *Local) CreateDirectory(ctx context.Context, path string) (string, error) {
	p, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return p, nil
}

// resolve makes path absolute against the working directory and verifies it
// stays inside an allowed root.
func (l *Local) resolve(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		l.mu.Lock()
		p = filepath.Join(l.cwd, p)
		l.mu.Unlock()
	}
	p = filepath.Clean(p)
	if !l.contained(p) {
		return "", domain.ErrPathOutsideRoots
	}
	return p, nil
}

// contained is segment-aware so a sibling like /data-old cannot pass as
// being under /data.
func (l *Local) contained(abs string) bool {
	for _, r := range l.roots {
		if abs == r || strings.HasPrefix(abs, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
