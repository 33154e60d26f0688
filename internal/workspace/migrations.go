package workspace

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS workspace_snapshots (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		payload JSONB NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigrations executes the schema statements in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	for i, sql := range migrations {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}
