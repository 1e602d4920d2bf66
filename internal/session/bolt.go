package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// BoltStore persists sessions in a bbolt file so history survives
// restarts. Each session is one key holding its JSON-encoded turn list.
type BoltStore struct {
	db       *bbolt.DB
	maxTurns int
}

var _ Store = (*BoltStore)(nil)

func NewBoltStore(path string, maxTurns int) (*BoltStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &BoltStore{db: db, maxTurns: maxTurns}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeTurns(data []byte) ([]Turn, error) {
	if data == nil {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decoding turns: %w", err)
	}
	return turns, nil
}

func (s *BoltStore) Get(_ context.Context, id string) ([]Turn, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	var turns []Turn
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		turns, err = decodeTurns(tx.Bucket(bucketSessions).Get([]byte(id)))
		return err
	})
	if turns == nil && err == nil {
		turns = []Turn{}
	}
	return turns, err
}

// Append reads, extends, trims and rewrites the session inside a single
// update transaction.
func (s *BoltStore) Append(_ context.Context, id string, turns ...Turn) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		existing, err := decodeTurns(b.Get([]byte(id)))
		if err != nil {
			return err
		}
		data, err := json.Marshal(window(append(existing, turns...), s.maxTurns))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) Clear(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

func (s *BoltStore) Stats(context.Context) (Stats, error) {
	var sizes []int
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			turns, err := decodeTurns(v)
			if err != nil {
				return err
			}
			sizes = append(sizes, len(turns))
			return nil
		})
	})
	if err != nil {
		return Stats{}, err
	}
	return computeStats(sizes), nil
}
