package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/skypro1111/livescribe/internal/transcript"
)

var keyPrefix = []byte("transcript/")

// ErrNotFound is returned when no archived transcript has the requested id
var ErrNotFound = errors.New("transcript not found")

// Record is one archived transcript
type Record struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	SavedAt   time.Time            `json:"saved_at"`
	WordCount int                  `json:"word_count"`
	Text      string               `json:"text"`
	Segments  []transcript.Segment `json:"segments"`
}

// NewRecord snapshots t into a record with a fresh id
func NewRecord(sessionID string, t *transcript.Transcript) Record {
	return Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
		WordCount: t.WordCount(),
		Text:      t.ExportText(),
		Segments:  t.Segments(),
	}
}

// Store keeps archived transcripts in a badger database
type Store struct {
	db *badger.DB
}

// OpenStore opens the archive under path, or in memory when path is empty
func OpenStore(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(path, "badger"))
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Store{db: db}, nil
}

func recordKey(id string) []byte {
	return append(append([]byte(nil), keyPrefix...), id...)
}

// Put stores or replaces a record
func (s *Store) Put(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
}

// Get returns the record with the given id
func (s *Store) Get(id string) (Record, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

// List returns every record, oldest first
func (s *Store) List() ([]Record, error) {
	records := make([]Record, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SavedAt.Before(records[j].SavedAt)
	})

	return records, nil
}

// Delete removes a record. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	})
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
