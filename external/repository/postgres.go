package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

const botColumns = `id, provider_bot_id, meeting_url, meeting_name, client_id, state, failure_reason, created_at, last_transition_at`

const turnColumns = `id, block_id, sequence, content, source_type, speaker_label, metadata, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func scanBot(row pgx.Row) (*repository.Bot, error) {
	var b repository.Bot
	var providerBotID *string
	if err := row.Scan(&b.ID, &providerBotID, &b.MeetingURL, &b.MeetingName, &b.ClientID, &b.State, &b.FailureReason, &b.CreatedAt, &b.LastTransitionAt); err != nil {
		return nil, err
	}
	if providerBotID != nil {
		b.ProviderBotID = *providerBotID
	}
	return &b, nil
}

func scanTurn(row pgx.Row) (*repository.Turn, error) {
	var t repository.Turn
	if err := row.Scan(&t.ID, &t.BlockID, &t.Sequence, &t.Content, &t.SourceType, &t.SpeakerLabel, &t.Metadata, &t.Timestamp); err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

const uniqueViolation = "23505"

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (r *PostgresRepository) CreateBot(ctx context.Context, input repository.CreateBotInput) (*repository.Bot, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO bots (id, meeting_url, meeting_name, client_id, state, created_at, last_transition_at)
		 VALUES ($1, $2, $3, $4, 'requested', $5, $5)
		 RETURNING `+botColumns,
		uuid.NewString(), input.MeetingURL, input.MeetingName, input.ClientID, input.CreatedAt)
	b, err := scanBot(row)
	if err != nil {
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) GetBot(ctx context.Context, id string) (*repository.Bot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	b, err := scanBot(r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *PostgresRepository) GetBotByProviderID(ctx context.Context, providerBotID string) (*repository.Bot, error) {
	b, err := scanBot(r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE provider_bot_id = $1`, providerBotID))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *PostgresRepository) TransitionBot(ctx context.Context, input repository.TransitionInput) (*repository.Bot, bool, error) {
	from := make([]string, 0, len(input.From))
	for _, s := range input.From {
		from = append(from, string(s))
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE bots SET
			state = $3,
			last_transition_at = $4,
			provider_bot_id = COALESCE(NULLIF($5, ''), provider_bot_id),
			failure_reason = COALESCE(NULLIF($6, ''), failure_reason)
		 WHERE id = $1 AND state = ANY($2)
		 RETURNING `+botColumns,
		input.ID, from, string(input.To), input.At, input.ProviderBotID, input.FailureReason)
	b, err := scanBot(row)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("update bot state: %w", conflict(err))
	}
	current, err := r.GetBot(ctx, input.ID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *PostgresRepository) ListBotsByState(ctx context.Context, states []repository.BotState) ([]repository.Bot, error) {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE state = ANY($1) ORDER BY last_transition_at ASC`,
		names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// GetOrCreateBlock relies on the unique bot_id constraint so racing first turns share one block.
func (r *PostgresRepository) GetOrCreateBlock(ctx context.Context, botID string) (*repository.Block, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO blocks (id, bot_id) VALUES ($1, $2)
		 ON CONFLICT (bot_id) DO UPDATE SET bot_id = EXCLUDED.bot_id
		 RETURNING id, bot_id, last_sequence, created_at`,
		uuid.NewString(), botID)
	var b repository.Block
	if err := row.Scan(&b.ID, &b.BotID, &b.LastSequence, &b.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert block: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) GetBlockByBot(ctx context.Context, botID string) (*repository.Block, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, bot_id, last_sequence, created_at FROM blocks WHERE bot_id = $1`, botID)
	var b repository.Block
	if err := row.Scan(&b.ID, &b.BotID, &b.LastSequence, &b.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// AppendTurn bumps the block counter and inserts the turn in one transaction.
// The counter row lock serializes concurrent appenders on the same block.
func (r *PostgresRepository) AppendTurn(ctx context.Context, input repository.AppendTurnInput) (*repository.Turn, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var seq int
	err = tx.QueryRow(ctx,
		`UPDATE blocks SET last_sequence = last_sequence + 1 WHERE id = $1 RETURNING last_sequence`,
		input.BlockID).Scan(&seq)
	if err != nil {
		return nil, notFound(err)
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO turns (id, block_id, sequence, content, source_type, speaker_label, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+turnColumns,
		uuid.NewString(), input.BlockID, seq, input.Content, string(input.SourceType), input.SpeakerLabel, input.Metadata, ts)
	t, err := scanTurn(row)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) GetRecentTurns(ctx context.Context, blockID string, limit int) ([]repository.Turn, error) {
	return r.queryTurns(ctx,
		`SELECT `+turnColumns+` FROM (
			SELECT `+turnColumns+` FROM turns WHERE block_id = $1 ORDER BY sequence DESC LIMIT $2
		 ) recent ORDER BY sequence ASC`,
		blockID, limit)
}

func (r *PostgresRepository) ListTurns(ctx context.Context, blockID string) ([]repository.Turn, error) {
	return r.queryTurns(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE block_id = $1 ORDER BY sequence ASC`,
		blockID)
}

func (r *PostgresRepository) queryTurns(ctx context.Context, sql string, args ...any) ([]repository.Turn, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) TurnStatsByBot(ctx context.Context, botID string) (repository.TurnStats, error) {
	var stats repository.TurnStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(t.id), MAX(t.created_at)
		 FROM blocks b JOIN turns t ON t.block_id = b.id
		 WHERE b.bot_id = $1`,
		botID).Scan(&stats.Count, &stats.LastTurnAt)
	if err != nil {
		return repository.TurnStats{}, err
	}
	return stats, nil
}
