package agent

import (
	"strings"

	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// buildSystemPrompt assembles the system prompt: pinned long-term memories
// lead, then the configured base prompt, then memory snippets relevant to
// the current message.
func (l *Loop) buildSystemPrompt(userPrompt string) string {
	var b strings.Builder

	if l.memory != nil {
		pinned := l.memory.Pinned()
		if len(pinned) > 0 {
			b.WriteString("Important context you must always remember:\n")
			for _, entry := range pinned {
				b.WriteString("- ")
				b.WriteString(entry.Text)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if l.cfg.SystemPrompt != "" {
		b.WriteString(l.cfg.SystemPrompt)
	} else {
		b.WriteString("You are ZeptoClaw, a capable assistant with access to tools. Be concise and direct.")
	}

	if l.memory != nil && userPrompt != "" {
		relevant := l.memory.Search(userPrompt, l.cfg.MaxInjectedMemories)
		var snippets []string
		for _, entry := range relevant {
			if entry.Pinned {
				continue // already injected above
			}
			snippets = append(snippets, "- "+truncateSnippet(entry.Text, 200))
		}
		if len(snippets) > 0 {
			b.WriteString("\n\nPossibly relevant memories:\n")
			b.WriteString(strings.Join(snippets, "\n"))
		}
	}

	return b.String()
}

// buildMessages produces the provider message list for this turn: bounded
// history plus the current user message.
func (l *Loop) buildMessages(session *sessions.Session, userContent string) []models.Message {
	history := session.Messages
	if len(history) > l.cfg.HistoryLimit {
		history = history[len(history)-l.cfg.HistoryLimit:]
		// Never start the window on a dangling tool response.
		for len(history) > 0 && history[0].Role == models.RoleTool {
			history = history[1:]
		}
	}

	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userContent})
	return messages
}

// toolSpecs renders the registry's catalog in provider-neutral form.
func (l *Loop) toolSpecs() []providers.ToolSpec {
	list := l.registry.List()
	specs := make([]providers.ToolSpec, 0, len(list))
	for _, tool := range list {
		specs = append(specs, providers.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return specs
}

func truncateSnippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
