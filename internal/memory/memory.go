// Package memory implements the long-term memory store: tagged entries with
// an importance score that decays over time, persisted to a single JSON
// file. Pinned entries never decay and are injected verbatim into system
// prompts.
package memory

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one remembered fact.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags,omitempty"`
	Importance float64   `json:"importance"`
	Pinned     bool      `json:"pinned,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// decayHalfLifeDays halves an entry's effective importance every 30 days.
const decayHalfLifeDays = 30.0

// Score is the entry's ranking weight at the given time. Pinned entries are
// exempt from decay.
func (e *Entry) Score(now time.Time) float64 {
	if e.Pinned {
		return e.Importance
	}
	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return e.Importance * math.Pow(0.5, ageDays/decayHalfLifeDays)
}

// Store holds memory entries behind a mutex with JSON persistence.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a store backed by path, loading existing entries. A load
// failure starts empty rather than failing.
func NewStore(path string) *Store {
	s := &Store{
		path:   path,
		logger: slog.With("component", "memory"),
		now:    time.Now,
	}
	if path != "" {
		if err := s.load(); err != nil {
			s.logger.Warn("memory load failed, starting empty", "path", path, "error", err)
			s.entries = nil
		}
	}
	return s
}

// Add stores a new entry and returns its id.
func (s *Store) Add(text string, tags []string, importance float64, pinned bool) string {
	if importance <= 0 {
		importance = 0.5
	}
	entry := Entry{
		ID:         uuid.NewString(),
		Text:       text,
		Tags:       tags,
		Importance: importance,
		Pinned:     pinned,
		CreatedAt:  s.now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	s.persistLocked()
	return entry.ID
}

// Forget removes an entry by id.
func (s *Store) Forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	return false
}

// Pinned returns all pinned entries, oldest first.
func (s *Store) Pinned() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Pinned {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Search returns up to limit entries matching the query, ranked by decayed
// importance. A term matches against text and tags, case-insensitive; an
// empty query ranks everything.
func (s *Store) Search(query string, limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		entry Entry
		score float64
	}
	var matched []scored
	for _, e := range s.entries {
		hits := matchCount(e, terms)
		if len(terms) > 0 && hits == 0 {
			continue
		}
		matched = append(matched, scored{entry: e, score: e.Score(now) * float64(1+hits)})
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Entry, len(matched))
	for i, m := range matched {
		out[i] = m.entry
	}
	return out
}

func matchCount(e Entry, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(e.Text + " " + strings.Join(e.Tags, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return hits
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.entries = entries
	return nil
}

func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		s.logger.Warn("memory encode failed", "error", err)
		return
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("memory dir create failed", "error", err)
		return
	}
	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		s.logger.Warn("memory temp create failed", "error", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		if err := tmp.Close(); err == nil {
			if err := os.Rename(tmpName, s.path); err == nil {
				return
			}
		}
	} else {
		tmp.Close()
	}
	os.Remove(tmpName)
	s.logger.Warn("memory persist failed", "path", s.path)
}
