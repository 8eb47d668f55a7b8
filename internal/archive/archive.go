// internal/archive/archive.go
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/sink"
)

var bucketName = []byte("snapshots")

// Record is one archived publish.
type Record struct {
	At      time.Time
	Payload []byte
}

// Store keeps every published document in a bbolt file, keyed by
// publish time (big-endian unix nanoseconds, so keys sort by time).
type Store struct {
	db        *bbolt.DB
	retention time.Duration
	log       *zap.Logger
}

// Open creates or opens the archive file.
func Open(path string, retention time.Duration, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: init: %w", err)
	}

	return &Store{db: db, retention: retention, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "archive" }

// Deliver implements sink.Sink.
func (s *Store) Deliver(_ context.Context, u sink.Update) error {
	return s.Record(u.At, u.Payload)
}

// Record appends payload at time at. Two records with the same
// timestamp are kept; the later one moves forward by a nanosecond.
func (s *Store) Record(at time.Time, payload []byte) error {
	if at.IsZero() {
		at = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)

		n := at.UnixNano()
		for b.Get(key(n)) != nil {
			n++
		}
		return b.Put(key(n), append([]byte(nil), payload...))
	})
}

// Range returns records with from <= At < to, oldest first.
// A zero to means no upper bound.
func (s *Store) Range(from, to time.Time) ([]Record, error) {
	var out []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()

		k, v := c.First()
		if !from.IsZero() {
			k, v = c.Seek(key(from.UnixNano()))
		}
		for ; k != nil; k, v = c.Next() {
			at := time.Unix(0, int64(binary.BigEndian.Uint64(k)))
			if !to.IsZero() && !at.Before(to) {
				break
			}
			out = append(out, Record{At: at, Payload: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest record.
func (s *Store) Latest() (Record, bool, error) {
	var (
		r  Record
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		k, v := tx.Bucket(bucketName).Cursor().Last()
		if k == nil {
			return nil
		}
		r = Record{At: time.Unix(0, int64(binary.BigEndian.Uint64(k))), Payload: append([]byte(nil), v...)}
		ok = true
		return nil
	})
	return r, ok, err
}

// Prune deletes records strictly older than before and returns how many.
// A record stamped exactly at before is kept.
func (s *Store) Prune(before time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		limit := key(before.UnixNano())

		// Collect first; deleting under a moving cursor skips keys.
		var expired [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
			expired = append(expired, append([]byte(nil), k...))
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}

// Count returns the number of records.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n, err
}

var errNoRetention = errors.New("archive: retention not set")

// PruneExpired deletes everything older than the retention period.
func (s *Store) PruneExpired(now time.Time) (int, error) {
	if s.retention <= 0 {
		return 0, errNoRetention
	}
	return s.Prune(now.Add(-s.retention))
}

func key(nanos int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(nanos))
	return k
}
