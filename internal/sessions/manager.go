package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// QueueMode controls how messages arriving mid-turn are replayed.
type QueueMode string

const (
	// QueueCollect drains the pending buffer as one synthetic message with a
	// numbered concatenation, preserving context cohesion. Default.
	QueueCollect QueueMode = "collect"

	// QueueFollowup replays each pending message individually in arrival
	// order, yielding one turn per message.
	QueueFollowup QueueMode = "followup"
)

// QueuedPrefix heads the synthetic collect-mode message.
const QueuedPrefix = "[Queued messages while I was busy]\n\n"

// ParseQueueMode validates a configured queue mode string.
func ParseQueueMode(s string) (QueueMode, error) {
	switch QueueMode(s) {
	case QueueCollect, QueueFollowup:
		return QueueMode(s), nil
	case "":
		return QueueCollect, nil
	default:
		return "", fmt.Errorf("unknown message queue mode %q", s)
	}
}

// Manager serializes turns per session key. The outer map mutex is held
// only to fetch or create a session's entry; each entry carries its own
// mutex, so sessions never contend with each other.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	locked  bool
	pending []models.InboundMessage
}

// NewManager creates a session lock manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

func (m *Manager) entryFor(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// AcquireOrEnqueue atomically either acquires the session lock (returning
// true) or, when an earlier turn holds it, appends the message to the
// session's pending buffer (returning false).
func (m *Manager) AcquireOrEnqueue(msg models.InboundMessage) bool {
	e := m.entryFor(msg.SessionKey())
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		e.pending = append(e.pending, msg)
		return false
	}
	e.locked = true
	return true
}

// Release ends a turn. Pending messages are drained inside the lock-release
// critical section and handed to replay before the lock is given up, so
// queued messages always re-enter the pipeline ahead of newly arriving
// ones. Messages that arrive during replay are drained too.
func (m *Manager) Release(key string, replay func([]models.InboundMessage)) {
	e := m.entryFor(key)
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.locked = false
			e.mu.Unlock()
			return
		}
		drained := e.pending
		e.pending = nil
		e.mu.Unlock()

		if replay != nil {
			replay(drained)
		}
	}
}

// PendingCount reports the number of queued messages for a session.
func (m *Manager) PendingCount(key string) int {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Locked reports whether a turn currently holds the session.
func (m *Manager) Locked(key string) bool {
	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

// CollectPending folds drained messages into the single synthetic inbound
// used by collect mode: a numbered concatenation under QueuedPrefix,
// addressed to the same session.
func CollectPending(pending []models.InboundMessage) models.InboundMessage {
	var b strings.Builder
	b.WriteString(QueuedPrefix)
	for i, msg := range pending {
		fmt.Fprintf(&b, "%d. %s", i+1, msg.Content)
		if i < len(pending)-1 {
			b.WriteString("\n")
		}
	}
	first := pending[0]
	return models.InboundMessage{
		Channel:   first.Channel,
		SenderID:  first.SenderID,
		ChatID:    first.ChatID,
		Content:   b.String(),
		Timestamp: time.Now(),
	}
}
