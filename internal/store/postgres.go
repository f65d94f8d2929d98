package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/market-core/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	seq        BIGINT PRIMARY KEY,
	kind       TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// PostgresJournal implements Journal on a PostgreSQL table. Each command is
// one row keyed by its sequence number, so an append is a single atomic
// insert.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a journal backed by pool.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

// EnsureSchema creates the commands table if it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create commands table: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Append(ctx context.Context, cmd model.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %d: %w", cmd.Seq, err)
	}

	// The insert only succeeds when cmd.Seq directly follows the last row.
	tag, err := j.pool.Exec(ctx,
		`INSERT INTO commands (seq, kind, payload, created_at)
		 SELECT $1, $2, $3::JSONB, $4
		 WHERE (SELECT COALESCE(MAX(seq), 0) FROM commands) = $1 - 1`,
		cmd.Seq, string(cmd.Kind), payload, cmd.At,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %d already journaled", ErrSequenceGap, cmd.Seq)
		}
		return fmt.Errorf("append command %d: %w", cmd.Seq, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %d", ErrSequenceGap, cmd.Seq)
	}
	return nil
}

func (j *PostgresJournal) Replay(ctx context.Context, fn func(model.Command) error) error {
	rows, err := j.pool.Query(ctx, `SELECT payload FROM commands ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	return scanCommands(rows, fn)
}

func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

func scanCommands(rows pgx.Rows, fn func(model.Command) error) error {
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var cmd model.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("decode command: %w", err)
		}
		if err := fn(cmd); err != nil {
			return err
		}
	}
	return rows.Err()
}
