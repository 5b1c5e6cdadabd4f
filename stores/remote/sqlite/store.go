package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"savesync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const savesTableStmt = `
CREATE TABLE IF NOT EXISTS saves (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	slot_name TEXT NOT NULL,
	save_name TEXT,
	campaign_name TEXT,
	turn_number INTEGER NOT NULL DEFAULT 0,
	playtime INTEGER NOT NULL DEFAULT 0,
	version TEXT,
	victory_status TEXT,
	thumbnail TEXT,
	data BLOB,
	checksum TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, slot_name)
);
CREATE INDEX IF NOT EXISTS idx_saves_user_updated ON saves(user_id, updated_at DESC);`

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens (creating if needed) a SQLite-backed row store.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(savesTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create saves table: %w", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, row *core.SaveRow) error {
	log := logrus.WithFields(logrus.Fields{
		"user_id":     row.UserID,
		"slot":        row.SlotName,
		"data_length": len(row.Data),
	})

	id := row.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saves (id, user_id, slot_name, save_name, campaign_name, turn_number, playtime,
			version, victory_status, thumbnail, data, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, slot_name) DO UPDATE SET
			save_name = excluded.save_name,
			campaign_name = excluded.campaign_name,
			turn_number = excluded.turn_number,
			playtime = excluded.playtime,
			version = excluded.version,
			victory_status = excluded.victory_status,
			thumbnail = excluded.thumbnail,
			data = excluded.data,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		id, row.UserID, row.SlotName, row.SaveName, row.CampaignName, row.TurnNumber, row.Playtime,
		row.Version, string(row.VictoryStatus), row.Thumbnail, row.Data, row.Checksum, now, now)
	if err != nil {
		log.WithError(err).Error("Failed to upsert save row")
		return err
	}
	log.Debug("Save row upserted")
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	row := core.SaveRow{UserID: userID, SlotName: slot}
	var (
		saveName, campaign, version, status, thumbnail, checksum sql.NullString
		createdAt, updatedAt                                     int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, save_name, campaign_name, turn_number, playtime, version, victory_status,
			thumbnail, data, checksum, created_at, updated_at
		FROM saves WHERE user_id = ? AND slot_name = ?`, userID, slot).Scan(
		&row.ID, &saveName, &campaign, &row.TurnNumber, &row.Playtime, &version, &status,
		&thumbnail, &row.Data, &checksum, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		logrus.WithFields(logrus.Fields{"user_id": userID, "slot": slot}).WithError(err).Error("Failed to get save row")
		return nil, err
	}

	row.SaveName = saveName.String
	row.CampaignName = campaign.String
	row.Version = version.String
	row.VictoryStatus = core.VictoryStatus(status.String)
	row.Thumbnail = thumbnail.String
	row.Checksum = checksum.String
	row.CreatedAt = time.Unix(0, createdAt)
	row.UpdatedAt = time.Unix(0, updatedAt)
	return &row, nil
}

func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slot_name, save_name, campaign_name, turn_number, playtime, version,
			victory_status, thumbnail, created_at, updated_at
		FROM saves WHERE user_id = ?
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*core.SaveRow{}
	for rows.Next() {
		r := core.SaveRow{UserID: userID}
		var (
			saveName, campaign, version, status, thumbnail sql.NullString
			createdAt, updatedAt                           int64
		)
		if err := rows.Scan(&r.ID, &r.SlotName, &saveName, &campaign, &r.TurnNumber, &r.Playtime,
			&version, &status, &thumbnail, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.SaveName = saveName.String
		r.CampaignName = campaign.String
		r.Version = version.String
		r.VictoryStatus = core.VictoryStatus(status.String)
		r.Thumbnail = thumbnail.String
		r.CreatedAt = time.Unix(0, createdAt)
		r.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, userID, slot string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM saves WHERE user_id = ? AND slot_name = ?", userID, slot)
	return err
}
