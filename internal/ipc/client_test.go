package ipc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/midstream/internal/dispatch"
	"github.com/anthropics/midstream/internal/domain"
)

func newClientServer(t *testing.T) (*Client, string) {
	t.Helper()
	h, root := newTestHandler(t)
	srv := NewServer(h, ":0", DefaultRateLimitConfig())
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), root
}

func TestClient_FileRoundTrip(t *testing.T) {
	c, root := newClientServer(t)
	ctx := context.Background()

	if err := c.WriteFile(ctx, "notes.txt", "remote content"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := c.ReadFile(ctx, "notes.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "remote content" {
		t.Errorf("expected round-tripped content, got %q", content)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil || string(data) != "remote content" {
		t.Errorf("expected file on the server's disk, err=%v data=%q", err, data)
	}
}

func TestClient_ListSearchGrep(t *testing.T) {
	c, root := newClientServer(t)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nvar Version = \"1.0\""), 0o644)
	os.WriteFile(filepath.Join(root, "notes.txt"), []byte("plain"), 0o644)

	entries, err := c.ListDirectory(ctx, ".")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}

	matches, err := c.SearchFiles(ctx, ".", "*.go")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || !strings.HasSuffix(matches[0], "main.go") {
		t.Errorf("expected one .go match, got %v", matches)
	}

	hits, err := c.GrepFiles(ctx, ".", "version")
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if len(hits) != 1 || hits[0].Line != 2 {
		t.Errorf("expected a line-2 hit, got %v", hits)
	}
}

func TestClient_DirectoryOps(t *testing.T) {
	c, root := newClientServer(t)
	ctx := context.Background()

	created, err := c.CreateDirectory(ctx, "work")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if !strings.HasSuffix(created, "work") {
		t.Errorf("unexpected created dir %s", created)
	}

	dir, err := c.ChangeDirectory(ctx, "work")
	if err != nil {
		t.Fatalf("cd: %v", err)
	}
	pwd, err := c.CurrentDirectory(ctx)
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != dir {
		t.Errorf("pwd %s does not match cd result %s", pwd, dir)
	}

	roots, err := c.Roots(ctx)
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	if len(roots) != 1 || roots[0] != root {
		t.Errorf("expected roots [%s], got %v", root, roots)
	}
}

func TestClient_RemoteEngineError(t *testing.T) {
	c, _ := newClientServer(t)

	_, err := c.ReadFile(context.Background(), "../outside.txt")
	if err == nil {
		t.Fatal("expected an error for a path outside the roots")
	}
	var engErr *domain.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected an engine error over the wire, got %T: %v", err, err)
	}
	if engErr.Code != domain.ErrPathOutsideRoots.Code {
		t.Errorf("expected code %d, got %d", domain.ErrPathOutsideRoots.Code, engErr.Code)
	}
}

func TestClient_MissingFileError(t *testing.T) {
	c, _ := newClientServer(t)

	_, err := c.ReadFile(context.Background(), "absent.txt")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "engine server") {
		t.Errorf("expected a server-attributed error, got %v", err)
	}
}

func TestClient_DispatchSequence(t *testing.T) {
	c, _ := newClientServer(t)

	ops := []domain.Operation{
		{Kind: domain.OpWrite, Path: "plan.txt", Body: "step one"},
		{Kind: domain.OpRead, Path: "plan.txt"},
		{Kind: domain.OpPwd},
	}
	outcomes, err := dispatch.Dispatch(context.Background(), c, ops)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Success {
		t.Errorf("write failed: %s", outcomes[0].Err)
	}
	if !outcomes[1].Success || outcomes[1].Content != "step one" {
		t.Errorf("read outcome: %+v", outcomes[1])
	}
	if !outcomes[2].Success || outcomes[2].Dir == "" {
		t.Errorf("pwd outcome: %+v", outcomes[2])
	}
}

func TestClient_Health(t *testing.T) {
	c, _ := newClientServer(t)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestClient_ServerUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", WithClientHTTP(&http.Client{Timeout: time.Second}))

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
	_, err := c.ReadFile(context.Background(), "x.txt")
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}
