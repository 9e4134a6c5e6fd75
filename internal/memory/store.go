package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps records in a bbolt file, one JSON value per user.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return nil, fmt.Errorf("memory: create dir: %w", errMkdir)
		}
	}
	db, errOpen := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if errOpen != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, errOpen)
	}
	errInit := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if errInit != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: init bucket: %w", errInit)
	}
	return &BoltStore{db: db}, nil
}

func userKey(userID uint64) []byte {
	return []byte(strconv.FormatUint(userID, 10))
}

// Load implements Store.
func (s *BoltStore) Load(_ context.Context, userID uint64) (*Record, error) {
	var record *Record
	errView := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(conversationsBucket).Get(userKey(userID))
		if data == nil {
			return nil
		}
		record = &Record{}
		return json.Unmarshal(data, record)
	})
	if errView != nil {
		return nil, errView
	}
	return record, nil
}

// Save implements Store.
func (s *BoltStore) Save(_ context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	data, errMarshal := json.Marshal(record)
	if errMarshal != nil {
		return errMarshal
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put(userKey(record.UserID), data)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(_ context.Context, userID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete(userKey(userID))
	})
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64]Record)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, userID uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	record.Messages = append([]Message(nil), record.Messages...)
	return &record, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	copied := *record
	copied.Messages = append([]Message(nil), record.Messages...)
	s.mu.Lock()
	s.records[record.UserID] = copied
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, userID uint64) error {
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
	return nil
}
