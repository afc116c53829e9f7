package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/birkenfeld/arexibo/internal/model"
)

func newTestRepo(t *testing.T, ctx context.Context) *Repository {
	t.Helper()
	repo, err := New(ctx, filepath.Join(t.TempDir(), "cache.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUpsertAndLoadEntries(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)

	layout := model.CacheEntry{Kind: model.FileLayout, ID: 5, MD5: "abc", Width: 1920, Height: 1080, Version: 1}
	if err := repo.UpsertEntry(ctx, "5.xlf", layout); err != nil {
		t.Fatalf("upsert layout: %v", err)
	}
	media := model.CacheEntry{Kind: model.FileMedia, ID: 7, MD5: "def", Size: 10}
	if err := repo.UpsertEntry(ctx, "7.png", media); err != nil {
		t.Fatalf("upsert media: %v", err)
	}
	media.MD5 = "fed"
	if err := repo.UpsertEntry(ctx, "7.png", media); err != nil {
		t.Fatalf("re-upsert media: %v", err)
	}

	entries, err := repo.LoadEntries(ctx)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries["5.xlf"] != layout {
		t.Fatalf("layout entry = %+v, want %+v", entries["5.xlf"], layout)
	}
	if got := entries["7.png"].MD5; got != "fed" {
		t.Fatalf("media md5 = %q, want %q", got, "fed")
	}
}

func TestLoadEntriesDropsBrokenRows(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)

	if _, err := repo.db.ExecContext(ctx, `INSERT INTO cache_entries (name, kind, payload_json, updated_at) VALUES ('x', 'media', '{not json', '')`); err != nil {
		t.Fatalf("seed broken row: %v", err)
	}
	entries, err := repo.LoadEntries(ctx)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected broken row to be skipped, got %d entries", len(entries))
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected broken row to be deleted, %d left", count)
	}
}

func TestDeleteAndClearEntries(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)

	for _, name := range []string{"1.png", "2.png", "3.png"} {
		if err := repo.UpsertEntry(ctx, name, model.CacheEntry{Kind: model.FileMedia}); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
	}
	if err := repo.DeleteEntries(ctx, []string{"1.png", "missing.png"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, _ := repo.LoadEntries(ctx)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after delete, got %d", len(entries))
	}

	if err := repo.ClearEntries(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, _ = repo.LoadEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty index, got %d", len(entries))
	}
}
