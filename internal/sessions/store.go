// Package sessions persists per-session conversation transcripts and
// provides the per-session locking and queued-replay semantics that
// serialize concurrent messages on the same session.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Session is one logical conversation, identified by "{channel}:{chat_id}".
// Append-only within a turn; only the agent loop holding the session lock
// mutates it.
type Session struct {
	Key       string           `json:"key"`
	Messages  []models.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Turns     int              `json:"turns"`
}

// Append adds a message and bumps the updated timestamp.
func (s *Session) Append(msg models.Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.CreatedAt
}

// Store persists sessions. Load returns a fresh session when the key has
// no history yet.
type Store interface {
	Load(key string) (*Session, error)
	Save(session *Session) error
}

// FileStore keeps one JSON file per session key, written atomically via
// temp file + rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Load(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return newSession(key), nil
		}
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	session.Key = key
	return &session, nil
}

func (s *FileStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.Key, err)
	}
	path := s.path(session.Key)
	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// path derives a filesystem-safe filename from the session key.
func (s *FileStore) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}

// MemoryStore is an in-memory store, used by tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Load(key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[key]; ok {
		clone := *session
		clone.Messages = append([]models.Message(nil), session.Messages...)
		return &clone, nil
	}
	return newSession(key), nil
}

func (s *MemoryStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	clone.Messages = append([]models.Message(nil), session.Messages...)
	s.sessions[session.Key] = &clone
	return nil
}

func newSession(key string) *Session {
	now := time.Now()
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}
}
