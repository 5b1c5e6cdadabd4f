package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"savesync/core"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	fieldID        = "id"
	fieldSaveName  = "save_name"
	fieldCampaign  = "campaign_name"
	fieldTurn      = "turn_number"
	fieldPlaytime  = "playtime"
	fieldVersion   = "version"
	fieldStatus    = "victory_status"
	fieldThumbnail = "thumbnail"
	fieldData      = "data"
	fieldChecksum  = "checksum"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

var metadataFields = []string{
	fieldID, fieldSaveName, fieldCampaign, fieldTurn, fieldPlaytime, fieldVersion,
	fieldStatus, fieldThumbnail, fieldCreatedAt, fieldUpdatedAt,
}

// RedisStore keeps one hash per (user, slot) and a per-user sorted set of
// slots scored by update time for newest-first listing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a row store on client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, "savesync:"), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// saveKey length-prefixes the user id so no (user, slot) pair can spell
// another's key, whatever colons either part holds.
func (s *RedisStore) saveKey(userID, slot string) string {
	return s.prefix + "save:" + strconv.Itoa(len(userID)) + ":" + userID + ":" + slot
}

func (s *RedisStore) indexKey(userID string) string {
	return s.prefix + "saves:" + userID
}

func (s *RedisStore) Upsert(ctx context.Context, row *core.SaveRow) error {
	key := s.saveKey(row.UserID, row.SlotName)
	id := row.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// HSETNX keeps identity and creation time across overwrites.
		pipe.HSetNX(ctx, key, fieldID, id)
		pipe.HSetNX(ctx, key, fieldCreatedAt, now.UnixNano())
		pipe.HSet(ctx, key, map[string]any{
			fieldSaveName:  row.SaveName,
			fieldCampaign:  row.CampaignName,
			fieldTurn:      row.TurnNumber,
			fieldPlaytime:  row.Playtime,
			fieldVersion:   row.Version,
			fieldStatus:    string(row.VictoryStatus),
			fieldThumbnail: row.Thumbnail,
			fieldData:      row.Data,
			fieldChecksum:  row.Checksum,
			fieldUpdatedAt: now.UnixNano(),
		})
		pipe.ZAdd(ctx, s.indexKey(row.UserID), redis.Z{
			Score:  score(now),
			Member: row.SlotName,
		})
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": row.UserID, "slot": row.SlotName}).WithError(err).Error("Failed to upsert save row")
		return fmt.Errorf("failed to upsert save: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	fields, err := s.client.HGetAll(ctx, s.saveKey(userID, slot)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get save: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound
	}

	row := rowFromFields(userID, slot, fields)
	row.Data = []byte(fields[fieldData])
	row.Checksum = fields[fieldChecksum]
	return row, nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	slots, err := s.client.ZRevRange(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}

	cmds := make([]*redis.SliceCmd, len(slots))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, slot := range slots {
			cmds[i] = pipe.HMGet(ctx, s.saveKey(userID, slot), metadataFields...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}

	out := make([]*core.SaveRow, 0, len(slots))
	for i, cmd := range cmds {
		values := cmd.Val()
		fields := make(map[string]string, len(metadataFields))
		for j, name := range metadataFields {
			if j < len(values) {
				if v, ok := values[j].(string); ok {
					fields[name] = v
				}
			}
		}
		if fields[fieldID] == "" {
			// Index entry without a hash; a concurrent delete won.
			continue
		}
		out = append(out, rowFromFields(userID, slots[i], fields))
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, slot string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.saveKey(userID, slot))
		pipe.ZRem(ctx, s.indexKey(userID), slot)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete save: %w", err)
	}
	return nil
}

// score is microseconds, which a float64 holds exactly.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func rowFromFields(userID, slot string, fields map[string]string) *core.SaveRow {
	turn, _ := strconv.Atoi(fields[fieldTurn])
	playtime, _ := strconv.ParseInt(fields[fieldPlaytime], 10, 64)
	created, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	updated, _ := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)

	return &core.SaveRow{
		ID:            fields[fieldID],
		UserID:        userID,
		SlotName:      slot,
		SaveName:      fields[fieldSaveName],
		CampaignName:  fields[fieldCampaign],
		TurnNumber:    turn,
		Playtime:      playtime,
		Version:       fields[fieldVersion],
		VictoryStatus: core.VictoryStatus(fields[fieldStatus]),
		Thumbnail:     fields[fieldThumbnail],
		CreatedAt:     time.Unix(0, created),
		UpdatedAt:     time.Unix(0, updated),
	}
}
