package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCheckpoint is the optional durable CheckpointBackend. Session
// state is small and read/written whole, so it's stored as one JSONB
// column per thread rather than normalized into message rows.
type PostgresCheckpoint struct {
	pool *pgxpool.Pool
}

// NewPostgresCheckpoint connects to Postgres and ensures the checkpoint
// table exists.
func NewPostgresCheckpoint(ctx context.Context, url string) (*PostgresCheckpoint, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint backend: %w", err)
	}

	c := &PostgresCheckpoint{pool: pool}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *PostgresCheckpoint) ensureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS session_checkpoints (
	thread_id  TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("ensure checkpoint schema: %w", err)
	}
	return nil
}

func (c *PostgresCheckpoint) Close() {
	c.pool.Close()
}

// Save upserts the whole session state as JSONB.
func (c *PostgresCheckpoint) Save(threadID string, state State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = c.pool.Exec(ctx, `
INSERT INTO session_checkpoints (thread_id, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		threadID, body)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load fetches and decodes a thread's checkpointed state.
func (c *PostgresCheckpoint) Load(threadID string) (State, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var body []byte
	err := c.pool.QueryRow(ctx, `SELECT state FROM session_checkpoints WHERE thread_id = $1`, threadID).Scan(&body)
	if err != nil {
		return State{}, false, nil
	}

	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return State{}, false, fmt.Errorf("decode checkpoint state: %w", err)
	}
	return state, true, nil
}

var _ CheckpointBackend = (*PostgresCheckpoint)(nil)
