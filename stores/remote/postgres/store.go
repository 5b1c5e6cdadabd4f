package postgres

import (
	"context"
	"errors"
	"fmt"

	"savesync/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS saves (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	slot_name TEXT NOT NULL,
	save_name TEXT NOT NULL DEFAULT '',
	campaign_name TEXT NOT NULL DEFAULT '',
	turn_number INTEGER NOT NULL DEFAULT 0,
	playtime BIGINT NOT NULL DEFAULT 0,
	version TEXT NOT NULL DEFAULT '',
	victory_status TEXT NOT NULL DEFAULT 'none',
	thumbnail TEXT NOT NULL DEFAULT '',
	data BYTEA NOT NULL,
	checksum TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT saves_user_slot_key UNIQUE (user_id, slot_name)
);
CREATE INDEX IF NOT EXISTS idx_saves_user_updated ON saves (user_id, updated_at DESC);`

// metadataColumns never includes data; listings must not move payloads.
const metadataColumns = `id::text, slot_name, save_name, campaign_name, turn_number, playtime,
	version, victory_status, thumbnail, created_at, updated_at`

// PostgresStore implements core.SaveRowStore using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed row store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool for databaseURL and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the saves table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create saves table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert relies on the (user_id, slot_name) unique constraint for
// last-write-wins semantics.
func (s *PostgresStore) Upsert(ctx context.Context, row *core.SaveRow) error {
	id := uuid.NewString()
	if parsed, err := uuid.Parse(row.ID); err == nil {
		id = parsed.String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO saves (
			id, user_id, slot_name, save_name, campaign_name, turn_number, playtime,
			version, victory_status, thumbnail, data, checksum, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (user_id, slot_name) DO UPDATE SET
			save_name = EXCLUDED.save_name,
			campaign_name = EXCLUDED.campaign_name,
			turn_number = EXCLUDED.turn_number,
			playtime = EXCLUDED.playtime,
			version = EXCLUDED.version,
			victory_status = EXCLUDED.victory_status,
			thumbnail = EXCLUDED.thumbnail,
			data = EXCLUDED.data,
			checksum = EXCLUDED.checksum,
			updated_at = now()
	`,
		id, row.UserID, row.SlotName, row.SaveName, row.CampaignName, row.TurnNumber, row.Playtime,
		row.Version, statusOrNone(row.VictoryStatus), row.Thumbnail, row.Data, nullIfEmpty(row.Checksum),
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": row.UserID, "slot": row.SlotName}).WithError(err).Error("Failed to upsert save row")
		return fmt.Errorf("failed to upsert save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	row := core.SaveRow{UserID: userID}
	var (
		status   string
		checksum *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT `+metadataColumns+`, data, checksum
		FROM saves
		WHERE user_id = $1 AND slot_name = $2
	`, userID, slot).Scan(
		&row.ID, &row.SlotName, &row.SaveName, &row.CampaignName, &row.TurnNumber, &row.Playtime,
		&row.Version, &status, &row.Thumbnail, &row.CreatedAt, &row.UpdatedAt, &row.Data, &checksum,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get save: %w", err)
	}

	row.VictoryStatus = core.VictoryStatus(status)
	if checksum != nil {
		row.Checksum = *checksum
	}
	return &row, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+metadataColumns+`
		FROM saves
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query saves: %w", err)
	}
	defer rows.Close()

	out := []*core.SaveRow{}
	for rows.Next() {
		r := core.SaveRow{UserID: userID}
		var status string
		if err := rows.Scan(&r.ID, &r.SlotName, &r.SaveName, &r.CampaignName, &r.TurnNumber, &r.Playtime,
			&r.Version, &status, &r.Thumbnail, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan save: %w", err)
		}
		r.VictoryStatus = core.VictoryStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saves: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, slot string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM saves WHERE user_id = $1 AND slot_name = $2`, userID, slot)
	if err != nil {
		return fmt.Errorf("failed to delete save: %w", err)
	}
	return nil
}

func statusOrNone(s core.VictoryStatus) string {
	if s == "" {
		return string(core.VictoryNone)
	}
	return string(s)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
