package offset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SteelMorgan/cutthelog/internal/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "offsets"

	// offset (8 bytes) + fingerprint length (8 bytes), followed by the hash
	recordHeaderSize = 16

	defaultOpenTimeout = time.Second
)

// BoltDBStore implements OffsetStore using BoltDB.
// bbolt holds an exclusive file lock while the database is open, so a second
// run waits up to the open timeout and then fails with domain.ErrCacheLocked.
// A database that cannot be opened for another reason leaves the store
// without db: reads report domain.ErrCacheUnreadable and writes are refused
// so the damaged file is never replaced.
type BoltDBStore struct {
	db      *bbolt.DB
	path    string
	openErr error
}

// NewBoltDBStore creates a new BoltDB offset store
func NewBoltDBStore(dbPath string, timeout time.Duration) (*BoltDBStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("boltdb path is required")
	}
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: timeout,
	})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s is held by another process: %w", domain.ErrCacheLocked, dbPath, err)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("db_path", dbPath).
			Msg("Failed to open BoltDB offset store, it will be left untouched")
		return &BoltDBStore{path: dbPath, openErr: err}, nil
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Debug().
		Str("db_path", dbPath).
		Msg("BoltDB offset store initialized")

	return &BoltDBStore{db: db, path: dbPath}, nil
}

func (s *BoltDBStore) unavailable(kind error) error {
	return fmt.Errorf("%w: cannot open %s: %w", kind, s.path, s.openErr)
}

// Get retrieves the state for a given file
func (s *BoltDBStore) Get(ctx context.Context, id domain.FileIdentity) (*domain.StateRecord, error) {
	if s.db == nil {
		return nil, s.unavailable(domain.ErrCacheUnreadable)
	}
	var record *domain.StateRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(id))
		if val == nil {
			return nil
		}

		decoded, err := decodeRecord(val)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrCacheUnreadable, id, err)
		}
		record = &decoded
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get offset: %w", err)
	}

	return record, nil
}

// Set stores the state for a given file
func (s *BoltDBStore) Set(ctx context.Context, id domain.FileIdentity, record domain.StateRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: invalid record for %s: %w", domain.ErrCacheUnwritable, id, err)
	}
	if s.db == nil {
		return s.unavailable(domain.ErrCacheUnwritable)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(id), encodeRecord(record))
	})

	if err != nil {
		return fmt.Errorf("%w: failed to set offset: %w", domain.ErrCacheUnwritable, err)
	}

	log.Debug().
		Str("file_path", id.String()).
		Int64("offset", record.Offset).
		Msg("Offset updated")

	return nil
}

// Delete removes the state for a given file
func (s *BoltDBStore) Delete(ctx context.Context, id domain.FileIdentity) error {
	if s.db == nil {
		return s.unavailable(domain.ErrCacheUnwritable)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(id))
	})

	if err != nil {
		return fmt.Errorf("%w: failed to delete offset: %w", domain.ErrCacheUnwritable, err)
	}

	return nil
}

// List returns all stored states; undecodable entries are skipped
func (s *BoltDBStore) List(ctx context.Context) (map[domain.FileIdentity]domain.StateRecord, error) {
	if s.db == nil {
		return nil, s.unavailable(domain.ErrCacheUnreadable)
	}
	result := make(map[domain.FileIdentity]domain.StateRecord)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			record, err := decodeRecord(v)
			if err != nil {
				log.Warn().Err(err).Str("file_path", string(k)).Msg("Skipping undecodable offset")
				return nil
			}
			result[domain.FileIdentity(k)] = record
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("%w: failed to list offsets: %w", domain.ErrCacheUnreadable, err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	if s.db == nil {
		return nil
	}
	log.Debug().Msg("Closing BoltDB offset store")
	return s.db.Close()
}

func encodeRecord(record domain.StateRecord) []byte {
	val := make([]byte, recordHeaderSize, recordHeaderSize+len(record.Fingerprint.Hash))
	binary.BigEndian.PutUint64(val[0:8], uint64(record.Offset))
	binary.BigEndian.PutUint64(val[8:16], uint64(record.Fingerprint.Length))
	return append(val, record.Fingerprint.Hash...)
}

func decodeRecord(val []byte) (domain.StateRecord, error) {
	if len(val) < recordHeaderSize {
		return domain.StateRecord{}, errors.New("invalid offset value")
	}

	record := domain.StateRecord{
		Offset: int64(binary.BigEndian.Uint64(val[0:8])),
		Fingerprint: domain.Fingerprint{
			Length: int64(binary.BigEndian.Uint64(val[8:16])),
			Hash:   string(val[recordHeaderSize:]),
		},
	}
	if err := record.Validate(); err != nil {
		return domain.StateRecord{}, err
	}
	return record, nil
}
