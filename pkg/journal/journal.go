package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/hookio/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

// Type is the transport type name used in hook configuration
const Type = "journal"

var bucketEvents = []byte("events")

// Entry is one journaled event
type Entry struct {
	Seq       uint64          `json:"seq"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode copies the entry payload into v
func (e Entry) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("entry %d carries no payload", e.Seq)
	}
	return json.Unmarshal(e.Payload, v)
}

// Journal appends every event leaving a hook to a BoltDB file
type Journal struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the journal at path
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEvents, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, path: path}, nil
}

// Type returns the transport type name
func (j *Journal) Type() string {
	return Type
}

// Path returns the journal file location
func (j *Journal) Path() string {
	return j.path
}

// Message appends an event
func (j *Journal) Message(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload of %s: %w", event, err)
		}
		raw = data
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{
			Seq:       seq,
			Event:     event,
			Payload:   raw,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(key(seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to journal %s: %w", event, err)
	}

	metrics.JournalWrites.Inc()
	return nil
}

// Replay calls fn for every entry in append order, stopping at the first
// error fn returns
func (j *Journal) Replay(fn func(Entry) error) error {
	return j.Since(0, fn)
}

// Since calls fn for every entry with a sequence number above seq
func (j *Journal) Since(seq uint64, fn func(Entry) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(key(seq + 1)); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of journaled events
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEvents).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the journal file
func (j *Journal) Close() error {
	return j.db.Close()
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
