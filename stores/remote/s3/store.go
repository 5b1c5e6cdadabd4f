package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"savesync/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	metaSuffix = ".json"
	dataSuffix = ".bin"
)

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps each row as two objects: <user>/<slot>.bin holds the payload
// and <user>/<slot>.json holds the metadata, so listing never downloads
// payloads. The metadata object is written last and acts as the commit.
type s3Store struct {
	client objectAPI
	bucket string
}

// NewStore creates a new S3-based row store using the default AWS config.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client objectAPI, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket}
}

func (s *s3Store) baseKey(userID, slot string) (string, error) {
	// Slot and user must be simple names, not paths.
	for _, part := range []string{userID, slot} {
		if part == "" || part == "." || part == ".." || path.Base(part) != part {
			return "", fmt.Errorf("%w: %q", core.ErrInvalidSlot, part)
		}
	}
	return path.Join(userID, slot), nil
}

func (s *s3Store) Upsert(ctx context.Context, row *core.SaveRow) error {
	base, err := s.baseKey(row.UserID, row.SlotName)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": row.UserID, "slot": row.SlotName})

	meta := *row
	meta.Data = nil
	now := time.Now()
	if existing, err := s.getMeta(ctx, base); err == nil {
		meta.ID = existing.ID
		meta.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, core.ErrNotFound) {
		if meta.ID == "" {
			meta.ID = ulid.Make().String()
		}
		meta.CreatedAt = now
	} else {
		return err
	}
	meta.UpdatedAt = now

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(base + dataSuffix),
		Body:   bytes.NewReader(row.Data),
	}); err != nil {
		log.WithError(err).Error("Failed to upload save payload")
		return fmt.Errorf("failed to upload save %s: %w", row.SlotName, err)
	}

	body, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal save metadata: %w", err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(base + metaSuffix),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		log.WithError(err).Error("Failed to upload save metadata")
		return fmt.Errorf("failed to upload save metadata %s: %w", row.SlotName, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	base, err := s.baseKey(userID, slot)
	if err != nil {
		return nil, err
	}
	row, err := s.getMeta(ctx, base)
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, base+dataSuffix)
	if err != nil {
		return nil, err
	}
	row.Data = data
	return row, nil
}

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	prefix := userID + "/"
	rows := []*core.SaveRow{}

	var token *string
	for {
		output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list saves for user %s: %w", userID, err)
		}

		for _, object := range output.Contents {
			key := aws.ToString(object.Key)
			if !strings.HasSuffix(key, metaSuffix) {
				continue
			}
			row, err := s.getMeta(ctx, strings.TrimSuffix(key, metaSuffix))
			if err != nil {
				logrus.WithError(err).Warnf("Failed to read save metadata %s, skipping", key)
				continue
			}
			rows = append(rows, row)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		token = output.NextContinuationToken
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})
	return rows, nil
}

func (s *s3Store) Delete(ctx context.Context, userID, slot string) error {
	base, err := s.baseKey(userID, slot)
	if err != nil {
		return err
	}
	// Metadata first so a half-finished delete never lists a payloadless save.
	for _, key := range []string{base + metaSuffix, base + dataSuffix} {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *s3Store) getMeta(ctx context.Context, base string) (*core.SaveRow, error) {
	body, err := s.getObject(ctx, base+metaSuffix)
	if err != nil {
		return nil, err
	}
	var row core.SaveRow
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal save metadata: %w", err)
	}
	return &row, nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}
