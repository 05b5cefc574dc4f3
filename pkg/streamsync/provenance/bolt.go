package provenance

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// DefaultBoltTimeout bounds how long opening a locked database file waits.
const DefaultBoltTimeout = time.Second

var (
	eventsBucket = []byte("events")
	indexBucket  = []byte("lineage")
)

// BoltRepository persists provenance events to a bbolt file, encoding each
// event with msgpack. Events are keyed by a monotonically increasing sequence;
// a secondary index maps FlowFile identifiers to sequences.
type BoltRepository struct {
	db     *bolt.DB
	mu     sync.RWMutex
	closed bool
}

// NewBoltRepository opens or creates a bbolt provenance database at path.
func NewBoltRepository(path string) (*BoltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for database: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: DefaultBoltTimeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(eventsBucket); err != nil {
			return fmt.Errorf("create events bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(indexBucket); err != nil {
			return fmt.Errorf("create lineage bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Record implements Repository.
func (b *BoltRepository) Record(events ...Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrRepositoryClosed
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket)
		ib := tx.Bucket(indexBucket)
		for _, e := range events {
			e = prepare(e)
			seq, err := eb.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			data, err := msgpack.Marshal(&e)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			key := seqKey(seq)
			if err := eb.Put(key, data); err != nil {
				return fmt.Errorf("put event: %w", err)
			}
			if err := ib.Put(indexKey(e.FlowFileID, seq), nil); err != nil {
				return fmt.Errorf("put index: %w", err)
			}
			if e.ParentID != "" && e.ParentID != e.FlowFileID {
				if err := ib.Put(indexKey(e.ParentID, seq), nil); err != nil {
					return fmt.Errorf("put index: %w", err)
				}
			}
		}
		return nil
	})
}

// Lineage implements Repository.
func (b *BoltRepository) Lineage(flowFileID string) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrRepositoryClosed
	}

	var events []Event
	err := b.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket)
		prefix := indexPrefix(flowFileID)
		c := tx.Bucket(indexBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			e, err := decodeEvent(eb.Get(k[len(prefix):]))
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Recent implements Repository.
func (b *BoltRepository) Recent(limit int) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrRepositoryClosed
	}

	var events []Event
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) == limit {
				break
			}
			e, err := decodeEvent(v)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close implements Repository.
func (b *BoltRepository) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func decodeEvent(data []byte) (Event, error) {
	var e Event
	if data == nil {
		return e, fmt.Errorf("lineage index references missing event")
	}
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// indexPrefix is the FlowFile identifier followed by a NUL separator.
func indexPrefix(flowFileID string) []byte {
	prefix := make([]byte, 0, len(flowFileID)+1)
	prefix = append(prefix, flowFileID...)
	return append(prefix, 0)
}

func indexKey(flowFileID string, seq uint64) []byte {
	return append(indexPrefix(flowFileID), seqKey(seq)...)
}
