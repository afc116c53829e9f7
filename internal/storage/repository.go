package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/goccy/go-json"
)

// LoadEntries returns every index entry keyed by cache file name. Rows
// whose payload no longer decodes are removed.
func (r *Repository) LoadEntries(ctx context.Context) (map[string]model.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, kind, payload_json FROM cache_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]model.CacheEntry{}
	var broken []string
	for rows.Next() {
		var name, kind, payload string
		if err := rows.Scan(&name, &kind, &payload); err != nil {
			return nil, err
		}
		var entry model.CacheEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil || string(entry.Kind) != kind {
			r.logger.Warn("dropping undecodable cache entry", "name", name, "err", err)
			broken = append(broken, name)
			continue
		}
		result[name] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()
	if len(broken) > 0 {
		if err := r.DeleteEntries(ctx, broken); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Repository) UpsertEntry(ctx context.Context, name string, entry model.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", name, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (name, kind, payload_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind=excluded.kind,
			payload_json=excluded.payload_json,
			updated_at=excluded.updated_at`,
		name, string(entry.Kind), string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *Repository) DeleteEntries(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM cache_entries WHERE name = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) ClearEntries(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}
