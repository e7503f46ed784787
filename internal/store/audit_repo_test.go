package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/midstream/internal/domain"
)

func TestAuditRepo_RecordAndList(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &AuditRepo{}
	now := time.Now().Unix()

	records := []domain.AuditRecord{
		{SessionID: "sess-1", Action: "read", Path: "/a.txt", Success: true, PayloadBytes: 42, CreatedAt: now},
		{SessionID: "sess-1", Action: "write", Path: "/b.txt", Success: false, Error: "denied", CreatedAt: now + 1},
		{SessionID: "sess-2", Action: "pwd", Success: true, CreatedAt: now + 2},
	}
	for _, rec := range records {
		if err := repo.Record(ctx, db, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := repo.ListBySession(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Action != "read" || !got[0].Success || got[0].PayloadBytes != 42 {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].Success || got[1].Error != "denied" {
		t.Errorf("second record = %+v", got[1])
	}
}

func TestAuditRepo_ListSince(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := &AuditRepo{}
	now := time.Now().Unix()

	for i, action := range []string{"read", "list", "grep"} {
		rec := domain.AuditRecord{SessionID: "sess-1", Action: action, Success: true, CreatedAt: now + int64(i)}
		if err := repo.Record(ctx, db, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := repo.ListSince(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListSince 0: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	tail, err := repo.ListSince(ctx, db, all[0].ID)
	if err != nil {
		t.Fatalf("ListSince cursor: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 records after cursor, got %d", len(tail))
	}
	if tail[0].Action != "list" {
		t.Errorf("first after cursor = %q, want list", tail[0].Action)
	}
}

func TestAuditSink_Append(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	sink := AuditSink{DB: db, Repo: &AuditRepo{}}
	rec := domain.AuditRecord{SessionID: "sess-sink", Action: "cd", Path: "/w", Success: true, CreatedAt: time.Now().Unix()}
	if err := sink.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := sink.Repo.ListBySession(ctx, db, "sess-sink")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 1 || got[0].Action != "cd" {
		t.Errorf("records = %+v", got)
	}
}
