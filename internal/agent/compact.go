package agent

import (
	"strings"
	"time"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// Context overflow recovery runs three tiers of reduction before retrying
// the provider call. Each tier transforms only the in-flight message list;
// the persisted session keeps its full transcript.
const maxCompactionTiers = 3

// compact applies reduction tier (1-3) to the message list, returning the
// reduced list and whether anything changed.
func (l *Loop) compact(messages []models.Message, tier int, sessionKey string) ([]models.Message, bool) {
	switch tier {
	case 1:
		return dropOldestToolExchanges(messages)
	case 2:
		return summarizeOldestExchange(messages)
	case 3:
		reduced, changed := keepOnlyLastUser(messages)
		if changed {
			l.bus.EmitPanel(models.PanelEvent{
				Type:       models.PanelCompaction,
				SessionKey: sessionKey,
				Detail:     "history reduced to last message",
				Timestamp:  time.Now(),
			})
		}
		return reduced, changed
	default:
		return messages, false
	}
}

// dropOldestToolExchanges removes completed tool call/result pairs from the
// oldest half of the transcript. The assistant text survives; only the
// bulky tool traffic goes.
func dropOldestToolExchanges(messages []models.Message) ([]models.Message, bool) {
	half := len(messages) / 2
	changed := false
	out := make([]models.Message, 0, len(messages))
	for i, msg := range messages {
		if i < half {
			if msg.Role == models.RoleTool {
				changed = true
				continue
			}
			if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
				msg.ToolCalls = nil
				if msg.Content == "" {
					msg.Content = "[used tools]"
				}
				changed = true
			}
		}
		out = append(out, msg)
	}
	return out, changed
}

// summarizeOldestExchange folds the oldest user/assistant pair into a
// compressed placeholder.
func summarizeOldestExchange(messages []models.Message) ([]models.Message, bool) {
	if len(messages) < 3 {
		return messages, false
	}
	userIdx := -1
	for i, msg := range messages[:len(messages)-1] {
		if msg.Role == models.RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 || userIdx+1 >= len(messages)-1 {
		return messages, false
	}

	pair := messages[userIdx : userIdx+2]
	summary := models.Message{
		Role: models.RoleUser,
		Content: "[Earlier conversation summarized] " +
			truncateSnippet(strings.TrimSpace(pair[0].Content+" / "+pair[1].Content), 300),
	}

	out := make([]models.Message, 0, len(messages)-1)
	out = append(out, messages[:userIdx]...)
	out = append(out, summary)
	out = append(out, messages[userIdx+2:]...)
	return out, true
}

// keepOnlyLastUser keeps only the final user message. The system prompt
// rides separately in the request, so it survives by construction.
func keepOnlyLastUser(messages []models.Message) ([]models.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			if i == 0 && len(messages) == 1 {
				return messages, false
			}
			return []models.Message{messages[i]}, true
		}
	}
	return messages, false
}
