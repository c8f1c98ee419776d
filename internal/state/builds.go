package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BuildRecord is one finished pipeline run. CacheHit marks runs satisfied
// entirely from the image cache.
type BuildRecord struct {
	ID        int64
	Project   string
	Pipeline  string
	ImageRef  string
	ImageID   string
	CacheHit  bool
	Duration  time.Duration
	CreatedAt time.Time
}

type BuildStore struct {
	db *DB
}

// NewBuildStore creates the store and ensures the table exists.
func NewBuildStore(ctx context.Context, database *DB) (*BuildStore, error) {
	if database == nil {
		return nil, fmt.Errorf("build store: nil database")
	}
	s := &BuildStore{db: database}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BuildStore) ensureSchema(ctx context.Context) error {
	const createTable = `
CREATE TABLE IF NOT EXISTS builds (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project     TEXT NOT NULL,
	pipeline    TEXT NOT NULL,
	image_ref   TEXT NOT NULL,
	image_id    TEXT NOT NULL,
	cache_hit   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS builds_project_idx ON builds(project, created_at);
`
	_, err := s.db.Raw().ExecContext(ctx, createTable)
	if err != nil {
		return fmt.Errorf("build store: ensure schema: %w", err)
	}
	return nil
}

func (s *BuildStore) Record(ctx context.Context, rec *BuildRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO builds (project, pipeline, image_ref, image_id, cache_hit, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Project,
			rec.Pipeline,
			rec.ImageRef,
			rec.ImageID,
			boolToInt(rec.CacheHit),
			rec.Duration.Milliseconds(),
			rec.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("build store: insert: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// History returns the most recent builds for the project, newest first. An
// empty project returns builds across all projects.
func (s *BuildStore) History(ctx context.Context, project string, limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT id, project, pipeline, image_ref, image_id, cache_hit, duration_ms, created_at
FROM builds`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("build store: query: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var (
			rec        BuildRecord
			cacheHit   int
			durationMs int64
			createdAt  int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Project,
			&rec.Pipeline,
			&rec.ImageRef,
			&rec.ImageID,
			&cacheHit,
			&durationMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("build store: scan: %w", err)
		}
		rec.CacheHit = cacheHit != 0
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
