package postgres

import (
	"context"
	"fmt"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id               TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	domain           TEXT NOT NULL,
	hash_key         TEXT NOT NULL UNIQUE,
	type             TEXT NOT NULL DEFAULT 'PAGE',
	priority         DOUBLE PRECISION NOT NULL DEFAULT 1,
	status           INTEGER NOT NULL DEFAULT 0,
	last_visit       TIMESTAMPTZ,
	next_visit_after TIMESTAMPTZ,
	reason           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_due_idx ON %[1]s (next_visit_after);
CREATE INDEX IF NOT EXISTS %[1]s_domain_priority_idx ON %[1]s (domain, priority DESC)`

// EnsureSchema creates the urls table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(schemaTemplate, s.cfg.Table)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
