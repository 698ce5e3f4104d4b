package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id UUID PRIMARY KEY,
		provider_bot_id TEXT,
		meeting_url TEXT NOT NULL,
		meeting_name TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL CHECK (state IN ('requested', 'joining', 'active', 'leaving', 'inactive', 'stuck', 'failed')),
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_transition_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bots_provider_bot_id ON bots (provider_bot_id) WHERE provider_bot_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_bots_state ON bots (state, last_transition_at)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		id UUID PRIMARY KEY,
		bot_id UUID NOT NULL UNIQUE REFERENCES bots(id),
		last_sequence INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id UUID PRIMARY KEY,
		block_id UUID NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		content TEXT NOT NULL,
		source_type TEXT NOT NULL CHECK (source_type IN ('transcript', 'chat', 'assistant', 'system')),
		speaker_label TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (block_id, sequence)
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
