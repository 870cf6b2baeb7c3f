package results

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Store keeps the history of benchmark runs.
type Store interface {
	Record(ctx context.Context, run Run) (uint64, error)
	Get(ctx context.Context, id uint64) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	Prune(ctx context.Context, maxAge time.Duration, maxRuns int) (int, error)
	Ping() error
	Close() error
}

// BoltStore implements Store using bbolt (BoltDB).
type BoltStore struct {
	db       *bbolt.DB
	logger   *zap.Logger
	readOnly bool
}

// NewBoltStore opens or creates a BoltDB results store.
func NewBoltStore(path string, noSync bool, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: noSync})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// OpenReadOnly opens an existing store without taking the write lock, so it
// can be inspected while a benchmark is recording into it.
func OpenReadOnly(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0400, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &BoltStore{db: db, logger: logger, readOnly: true}, nil
}

func (s *BoltStore) initSchema() error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sys, err := tx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		v := sys.Get(keySchemaVersion)
		if v == nil {
			if _, err := tx.CreateBucketIfNotExists(bucketTimeIndex); err != nil {
				return err
			}
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	}); err != nil {
		return err
	}
	return s.Migrate()
}

func encodeRun(run *Run) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(run); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRun(data []byte) (*Run, error) {
	var run Run
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Record stores run under a new sequential ID and returns it.
func (s *BoltStore) Record(_ context.Context, run Run) (uint64, error) {
	if s.readOnly {
		return 0, fmt.Errorf("results store is read-only")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		id, err := runs.NextSequence()
		if err != nil {
			return err
		}
		run.ID = id
		if run.StartedAt.IsZero() {
			run.StartedAt = time.Now()
		}

		data, err := encodeRun(&run)
		if err != nil {
			return err
		}
		if err := runs.Put(uint64ToBytes(id), data); err != nil {
			return err
		}
		return tx.Bucket(bucketTimeIndex).Put(timeKey(run.StartedAt, id), uint64ToBytes(id))
	})
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	return run.ID, nil
}

func (s *BoltStore) Get(_ context.Context, id uint64) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil {
			return ErrNotFound
		}
		raw := runs.Get(uint64ToBytes(id))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		run, err = decodeRun(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", id, err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *BoltStore) List(_ context.Context, limit int) ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil {
			return nil
		}
		c := runs.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			run, err := decodeRun(v)
			if err != nil {
				return fmt.Errorf("decoding run %d: %w", bytesToUint64(k), err)
			}
			out = append(out, *run)
		}
		return nil
	})
	return out, err
}

// Prune deletes runs started more than maxAge ago and then all but the
// newest maxRuns. Zero disables either limit. It returns the number of runs
// deleted.
func (s *BoltStore) Prune(_ context.Context, maxAge time.Duration, maxRuns int) (int, error) {
	if s.readOnly {
		return 0, fmt.Errorf("results store is read-only")
	}
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		idx := tx.Bucket(bucketTimeIndex)

		var victims [][]byte
		if maxAge > 0 {
			cutoff := uint64(time.Now().Add(-maxAge).UnixNano())
			c := idx.Cursor()
			for k, _ := c.First(); k != nil && bytesToUint64(k[:8]) < cutoff; k, _ = c.Next() {
				victims = append(victims, append([]byte(nil), k...))
			}
		}
		if maxRuns > 0 {
			excess := idx.Stats().KeyN - len(victims) - maxRuns
			c := idx.Cursor()
			k, _ := c.First()
			for i := 0; i < len(victims) && k != nil; i++ {
				k, _ = c.Next()
			}
			for ; excess > 0 && k != nil; k, _ = c.Next() {
				victims = append(victims, append([]byte(nil), k...))
				excess--
			}
		}

		for _, k := range victims {
			id := idx.Get(k)
			if id != nil {
				if err := runs.Delete(id); err != nil {
					return err
				}
			}
			if err := idx.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned benchmark runs", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
