// Package memory keeps bounded per-user conversation history.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxMessages keeps three exchanges.
const DefaultMaxMessages = 6

var errNoUser = errors.New("memory: user id required")

// Message is one stored turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is a user's retained conversation.
type Record struct {
	UserID    uint64    `json:"user_id"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds a message and evicts the oldest beyond limit.
func (r *Record) Append(role, content string, at time.Time, limit int) {
	if r == nil {
		return
	}
	r.Messages = append(r.Messages, Message{Role: role, Content: content, CreatedAt: at})
	if limit > 0 && len(r.Messages) > limit {
		r.Messages = append([]Message(nil), r.Messages[len(r.Messages)-limit:]...)
	}
	r.UpdatedAt = at
}

// Store persists records.
type Store interface {
	// Load returns nil, nil when the user has no record.
	Load(ctx context.Context, userID uint64) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Delete(ctx context.Context, userID uint64) error
}

// Memory serializes access to each user's record.
type Memory struct {
	store       Store
	maxMessages int
	nowFn       func() time.Time

	mu    sync.Mutex
	locks map[uint64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// New constructs a Memory over store; a nil store keeps records in process.
func New(store Store, maxMessages int) *Memory {
	if store == nil {
		store = NewMemoryStore()
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Memory{
		store:       store,
		maxMessages: maxMessages,
		nowFn:       time.Now,
		locks:       make(map[uint64]*userLock),
	}
}

// MaxMessages returns the retention cap.
func (m *Memory) MaxMessages() int {
	if m == nil {
		return DefaultMaxMessages
	}
	return m.maxMessages
}

func (m *Memory) lock(userID uint64) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Session loads the user's record, hands it to fn and saves it when fn
// succeeds. Sessions of one user run one at a time; a failing fn leaves the
// stored record untouched.
func (m *Memory) Session(ctx context.Context, userID uint64, fn func(*Session) error) error {
	if m == nil {
		return errors.New("memory: not configured")
	}
	if userID == 0 {
		return errNoUser
	}
	if ctx == nil {
		ctx = context.Background()
	}
	unlock := m.lock(userID)
	defer unlock()

	record, errLoad := m.store.Load(ctx, userID)
	if errLoad != nil {
		return fmt.Errorf("memory: load: %w", errLoad)
	}
	if record == nil {
		record = &Record{UserID: userID}
	}
	session := &Session{record: record, limit: m.maxMessages, nowFn: m.nowFn}
	if errFn := fn(session); errFn != nil {
		return errFn
	}
	if errSave := m.store.Save(ctx, record); errSave != nil {
		return fmt.Errorf("memory: save: %w", errSave)
	}
	return nil
}

// History returns a copy of the user's retained messages.
func (m *Memory) History(ctx context.Context, userID uint64) ([]Message, error) {
	if m == nil {
		return nil, errors.New("memory: not configured")
	}
	if userID == 0 {
		return nil, errNoUser
	}
	if ctx == nil {
		ctx = context.Background()
	}
	unlock := m.lock(userID)
	defer unlock()

	record, errLoad := m.store.Load(ctx, userID)
	if errLoad != nil {
		return nil, fmt.Errorf("memory: load: %w", errLoad)
	}
	if record == nil {
		return []Message{}, nil
	}
	return append([]Message(nil), record.Messages...), nil
}

// Clear deletes the user's record. Clearing an empty history succeeds.
func (m *Memory) Clear(ctx context.Context, userID uint64) error {
	if m == nil {
		return errors.New("memory: not configured")
	}
	if userID == 0 {
		return errNoUser
	}
	if ctx == nil {
		ctx = context.Background()
	}
	unlock := m.lock(userID)
	defer unlock()
	if errDelete := m.store.Delete(ctx, userID); errDelete != nil {
		return fmt.Errorf("memory: delete: %w", errDelete)
	}
	return nil
}

// Session is the mutable view of one record inside Memory.Session.
type Session struct {
	record *Record
	limit  int
	nowFn  func() time.Time
}

// Messages returns the retained messages, oldest first.
func (s *Session) Messages() []Message {
	return append([]Message(nil), s.record.Messages...)
}

// AddUser appends a user message.
func (s *Session) AddUser(content string) {
	s.record.Append(RoleUser, content, s.nowFn().UTC(), s.limit)
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(content string) {
	s.record.Append(RoleAssistant, content, s.nowFn().UTC(), s.limit)
}
