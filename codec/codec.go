// Package codec turns SaveData into the compact binary form stored remotely,
// the JSON text form stored locally, and the checksum both are verified with.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"savesync/core"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

var ErrEmptyPayload = errors.New("empty save payload")

// canonical is the form every encoding starts from: SavedAt in UTC, which
// also drops any monotonic clock reading.
func canonical(data *core.SaveData) *core.SaveData {
	c := *data
	c.SavedAt = c.SavedAt.UTC()
	return &c
}

// Marshal returns the canonical JSON form of data. Timestamps serialize as
// RFC 3339 strings in UTC.
func Marshal(data *core.SaveData) ([]byte, error) {
	if data == nil {
		return nil, ErrEmptyPayload
	}
	b, err := json.Marshal(canonical(data))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal save data: %w", err)
	}
	return b, nil
}

// MarshalIndent is Marshal for human-readable storage.
func MarshalIndent(data *core.SaveData) ([]byte, error) {
	if data == nil {
		return nil, ErrEmptyPayload
	}
	b, err := json.MarshalIndent(canonical(data), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal save data: %w", err)
	}
	return b, nil
}

// Unmarshal parses either JSON form back into SaveData. SavedAt comes back
// in UTC and State compacted.
func Unmarshal(b []byte) (*core.SaveData, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPayload
	}
	var data core.SaveData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal save data: %w", err)
	}
	if len(data.State) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data.State); err != nil {
			return nil, fmt.Errorf("failed to compact save state: %w", err)
		}
		data.State = json.RawMessage(buf.Bytes())
	}
	data.SavedAt = data.SavedAt.UTC()
	return &data, nil
}

// Encode serializes data to canonical JSON and gzips it. Decode returns the
// same value except that SavedAt is the same instant in UTC and State is
// compacted; data already in that form round-trips exactly.
func Encode(data *core.SaveData) ([]byte, error) {
	raw, err := Marshal(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress save data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress save data: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*core.SaveData, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPayload
	}
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed save data: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress save data: %w", err)
	}
	return Unmarshal(raw)
}

// Checksum is the hex SHA-256 of the uncompressed canonical JSON, so it does
// not depend on the compressor.
func Checksum(data *core.SaveData) (string, error) {
	raw, err := Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Verify compares data against a stored checksum. A mismatch is logged as an
// integrity warning and reported as false; it is never an error. An empty
// expected checksum always verifies.
func Verify(data *core.SaveData, expected string, fields logrus.Fields) bool {
	if expected == "" {
		return true
	}
	log := logrus.WithFields(fields)
	actual, err := Checksum(data)
	if err != nil {
		log.WithError(err).Warn("Could not compute checksum for loaded save")
		return false
	}
	if actual != expected {
		log.WithFields(logrus.Fields{
			"expected": expected,
			"actual":   actual,
		}).Warn("Save data integrity warning: checksum mismatch")
		return false
	}
	return true
}
