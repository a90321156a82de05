package memory

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAddSearchRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "memory.json"))
	s.Add("the deploy password is in vault", []string{"ops"}, 0.9, false)
	s.Add("user prefers terse answers", []string{"style"}, 0.8, false)

	got := s.Search("deploy", 10)
	if len(got) != 1 || got[0].Tags[0] != "ops" {
		t.Fatalf("Search(deploy) = %+v", got)
	}

	// Tag terms match too.
	got = s.Search("style", 10)
	if len(got) != 1 {
		t.Fatalf("Search(style) = %+v", got)
	}
}

func TestDecayRanking(t *testing.T) {
	s := NewStore("")
	base := time.Now()

	s.now = func() time.Time { return base.Add(-60 * 24 * time.Hour) }
	s.Add("old fact about cats", nil, 1.0, false)

	s.now = func() time.Time { return base }
	s.Add("new fact about cats", nil, 0.5, false)

	// 60 days at a 30-day half-life quarters the old entry: 0.25 < 0.5.
	got := s.Search("cats", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Text != "new fact about cats" {
		t.Fatalf("decay ranking wrong, first = %q", got[0].Text)
	}
}

func TestPinnedExemptFromDecay(t *testing.T) {
	s := NewStore("")
	base := time.Now()

	s.now = func() time.Time { return base.Add(-365 * 24 * time.Hour) }
	s.Add("pinned ancient rule", nil, 1.0, true)

	s.now = func() time.Time { return base }
	entry := s.Search("pinned", 1)[0]
	if entry.Score(base) != 1.0 {
		t.Fatalf("pinned entry decayed: score = %v", entry.Score(base))
	}

	pinned := s.Pinned()
	if len(pinned) != 1 || pinned[0].Text != "pinned ancient rule" {
		t.Fatalf("Pinned() = %+v", pinned)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s := NewStore(path)
	id := s.Add("durable fact", nil, 0.7, false)

	reloaded := NewStore(path)
	got := reloaded.Search("durable", 1)
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("reloaded store missing entry: %+v", got)
	}

	if !reloaded.Forget(id) {
		t.Fatal("Forget returned false for existing id")
	}
	if len(reloaded.Search("durable", 1)) != 0 {
		t.Fatal("entry survived Forget")
	}
}
