package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qhkm/zeptoclaw/internal/approval"
	"github.com/qhkm/zeptoclaw/internal/autonomy"
	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/cache"
	"github.com/qhkm/zeptoclaw/internal/hooks"
	"github.com/qhkm/zeptoclaw/internal/memory"
	"github.com/qhkm/zeptoclaw/internal/providers"
	"github.com/qhkm/zeptoclaw/internal/sessions"
	"github.com/qhkm/zeptoclaw/internal/telemetry"
	"github.com/qhkm/zeptoclaw/internal/tools"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// step is one scripted provider response.
type step struct {
	text      string
	toolCalls []models.ToolCall
	err       error
	usage     models.Usage
}

type fakeProvider struct {
	mu    sync.Mutex
	steps []step
	// dynamic, when set, overrides steps.
	dynamic func(call int, req *providers.Request) step
	calls   int
	reqs    []*providers.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *providers.Request) (<-chan *providers.Chunk, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.reqs = append(f.reqs, req)
	var s step
	if f.dynamic != nil {
		s = f.dynamic(idx, req)
	} else if idx < len(f.steps) {
		s = f.steps[idx]
	} else if len(f.steps) > 0 {
		s = f.steps[len(f.steps)-1]
	}
	f.mu.Unlock()

	ch := make(chan *providers.Chunk, len(s.toolCalls)+3)
	go func() {
		defer close(ch)
		if s.err != nil {
			ch <- &providers.Chunk{Err: s.err}
			return
		}
		if s.text != "" {
			ch <- &providers.Chunk{Text: s.text}
		}
		for i := range s.toolCalls {
			tc := s.toolCalls[i]
			ch <- &providers.Chunk{ToolCall: &tc}
		}
		usage := s.usage
		if usage.Total() == 0 {
			usage = models.Usage{InputTokens: 10, OutputTokens: 5}
		}
		ch <- &providers.Chunk{Done: true, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	}()
	return ch, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// sleepTool sleeps for the requested duration, honoring cancellation the
// way subprocess-backed tools do via the process-group kill.
type sleepTool struct{}

func (s *sleepTool) Name() string                { return "sleep_ms" }
func (s *sleepTool) Description() string         { return "sleep for a number of milliseconds" }
func (s *sleepTool) CompactDescription() string  { return "sleep" }
func (s *sleepTool) Category() autonomy.Category { return autonomy.CategoryMemory }
func (s *sleepTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ms":{"type":"integer"}},"required":["ms"]}`)
}

func (s *sleepTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Ms int `json:"ms"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	select {
	case <-time.After(time.Duration(args.Ms) * time.Millisecond):
		return "slept", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type loopFixture struct {
	loop     *Loop
	bus      *bus.Bus
	provider *fakeProvider
	store    *sessions.MemoryStore
	cache    *cache.Cache
	outbound <-chan models.OutboundMessage
	panel    <-chan models.PanelEvent
}

func newFixture(t *testing.T, provider *fakeProvider, cfg Config, register ...tools.Tool) *loopFixture {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)

	registry := tools.NewRegistry()
	for _, tool := range register {
		registry.Register(tool)
	}

	store := sessions.NewMemoryStore()
	respCache := cache.New(cache.Config{Enabled: true, TTL: time.Hour, MaxEntries: 100})

	if cfg.Model == "" {
		cfg.Model = "m"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "s"
	}

	loop := New(Deps{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Cache:    respCache,
		Bus:      b,
		Hooks:    hooks.NewEngine(nil, b, nil),
		Metrics:  telemetry.NewMetrics(),
		Gate:     approval.NewGate(approval.Config{}, nil),
		Memory:   memory.NewStore(""),
	}, cfg)

	return &loopFixture{
		loop:     loop,
		bus:      b,
		provider: provider,
		store:    store,
		cache:    respCache,
		outbound: b.SubscribeOutbound(),
		panel:    b.SubscribePanel(),
	}
}

func (f *loopFixture) handle(t *testing.T, content string) models.OutboundMessage {
	t.Helper()
	f.loop.HandleMessage(context.Background(), models.InboundMessage{
		Channel: models.ChannelCLI, SenderID: "u1", ChatID: "c1",
		Content: content, Timestamp: time.Now(),
	})
	select {
	case out := <-f.outbound:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("no outbound emitted")
		return models.OutboundMessage{}
	}
}

func (f *loopFixture) waitPanel(t *testing.T, kind models.PanelEventType) models.PanelEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.panel:
			if ev.Type == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("panel event %s not observed", kind)
		}
	}
}

func TestCacheHitSkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	f := newFixture(t, provider, Config{})

	f.cache.Put(cache.Key("m", "s", "hello"), "world", 42)

	out := f.handle(t, "hello")
	if out.Content != "world" || out.Channel != models.ChannelCLI || out.ChatID != "c1" {
		t.Fatalf("outbound = %+v", out)
	}
	if provider.callCount() != 0 {
		t.Fatalf("provider called %d times on a cache hit", provider.callCount())
	}
	done := f.waitPanel(t, models.PanelAgentDone)
	if done.Tokens != 0 {
		t.Fatalf("AgentDone tokens = %d, want 0", done.Tokens)
	}

	// The cached exchange still lands in the transcript.
	session, _ := f.store.Load("cli:c1")
	if len(session.Messages) != 2 || session.Messages[1].Content != "world" {
		t.Fatalf("session = %+v", session.Messages)
	}
}

func TestPlainResponseCachedAndEmitted(t *testing.T) {
	provider := &fakeProvider{steps: []step{{text: "the answer"}}}
	f := newFixture(t, provider, Config{})

	out := f.handle(t, "question")
	if out.Content != "the answer" {
		t.Fatalf("outbound = %q", out.Content)
	}
	if text, ok := f.cache.Get(cache.Key("m", "s", "question")); !ok || text != "the answer" {
		t.Fatal("clean first response should be cached")
	}
}

func TestToolParallelismAndResultOrder(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{
			{ID: "A", Name: "sleep_ms", Input: json.RawMessage(`{"ms":300}`)},
			{ID: "B", Name: "sleep_ms", Input: json.RawMessage(`{"ms":100}`)},
		}},
		{text: "done"},
	}}
	f := newFixture(t, provider, Config{}, &sleepTool{})

	start := time.Now()
	out := f.handle(t, "run both")
	elapsed := time.Since(start)

	if out.Content != "done" {
		t.Fatalf("outbound = %q", out.Content)
	}
	// Serial execution would take >=400ms; parallel stays near the slower
	// call's 300ms.
	if elapsed >= 400*time.Millisecond {
		t.Fatalf("tools did not run in parallel: %v", elapsed)
	}

	session, _ := f.store.Load("cli:c1")
	var toolMsg *models.Message
	for i := range session.Messages {
		if session.Messages[i].Role == models.RoleTool {
			toolMsg = &session.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in session")
	}
	if len(toolMsg.ToolResults) != 2 ||
		toolMsg.ToolResults[0].ToolCallID != "A" ||
		toolMsg.ToolResults[1].ToolCallID != "B" {
		t.Fatalf("result order = %+v", toolMsg.ToolResults)
	}
}

func TestTranscriptInvariants(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "sleep_ms", Input: json.RawMessage(`{"ms":1}`)}}},
		{text: "final"},
	}}
	f := newFixture(t, provider, Config{}, &sleepTool{})
	f.handle(t, "go")

	session, _ := f.store.Load("cli:c1")
	pendingCalls := map[string]bool{}
	for _, msg := range session.Messages {
		switch msg.Role {
		case models.RoleUser:
			if len(pendingCalls) != 0 {
				t.Fatalf("user message before tool calls resolved: %v", pendingCalls)
			}
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				pendingCalls[tc.ID] = true
			}
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				if !pendingCalls[tr.ToolCallID] {
					t.Fatalf("tool result %s without matching call", tr.ToolCallID)
				}
				delete(pendingCalls, tr.ToolCallID)
			}
		}
	}
	if len(pendingCalls) != 0 {
		t.Fatalf("unresolved tool calls: %v", pendingCalls)
	}
}

func TestWallClockTimeout(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "sleep_ms", Input: json.RawMessage(`{"ms":10000}`)}}},
	}}
	f := newFixture(t, provider, Config{Timeout: 500 * time.Millisecond}, &sleepTool{})

	out := f.handle(t, "slow thing")
	if !strings.Contains(out.Content, "ran out of time") {
		t.Fatalf("outbound = %q", out.Content)
	}

	// No partial tool result may be appended.
	session, _ := f.store.Load("cli:c1")
	for _, msg := range session.Messages {
		if msg.Role == models.RoleTool || len(msg.ToolCalls) > 0 {
			t.Fatalf("partial tool state persisted: %+v", msg)
		}
	}
}

func TestTokenBudgetExhaustion(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "sleep_ms", Input: json.RawMessage(`{"ms":1}`)}},
			usage: models.Usage{InputTokens: 40, OutputTokens: 20}},
		{text: "never reached"},
	}}
	f := newFixture(t, provider, Config{TokenBudget: 50}, &sleepTool{})

	out := f.handle(t, "spend tokens")
	if !strings.Contains(out.Content, "token budget") {
		t.Fatalf("outbound = %q", out.Content)
	}
	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.callCount())
	}

	// Next message on the same session short-circuits immediately.
	out = f.handle(t, "more")
	if !strings.Contains(out.Content, "token budget") {
		t.Fatalf("second outbound = %q", out.Content)
	}
	if provider.callCount() != 1 {
		t.Fatal("budget-exhausted session still called the provider")
	}
}

func TestIterationCap(t *testing.T) {
	provider := &fakeProvider{dynamic: func(call int, req *providers.Request) step {
		return step{
			text:      "thinking",
			toolCalls: []models.ToolCall{{ID: "A", Name: "sleep_ms", Input: json.RawMessage(`{"ms":1}`)}},
		}
	}}
	f := newFixture(t, provider, Config{MaxToolIterations: 3}, &sleepTool{})

	out := f.handle(t, "loop forever")
	if !strings.Contains(out.Content, "iteration limit") {
		t.Fatalf("outbound = %q", out.Content)
	}
	if provider.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3", provider.callCount())
	}
}

func TestContextOverflowRecovery(t *testing.T) {
	overflow := &providers.Error{Kind: providers.KindContextOverflow, Message: "prompt is too long"}
	provider := &fakeProvider{dynamic: func(call int, req *providers.Request) step {
		if len(req.Messages) > 1 {
			return step{err: overflow}
		}
		return step{text: "recovered"}
	}}
	f := newFixture(t, provider, Config{})

	// Seed a long transcript so the first calls overflow.
	session, _ := f.store.Load("cli:c1")
	for i := 0; i < 6; i++ {
		session.Append(models.Message{Role: models.RoleUser, Content: "old question"})
		session.Append(models.Message{Role: models.RoleAssistant, Content: "old answer"})
	}
	f.store.Save(session)

	out := f.handle(t, "current question")
	if out.Content != "recovered" {
		t.Fatalf("outbound = %q", out.Content)
	}
	f.waitPanel(t, models.PanelCompaction)
}

func TestObserverModeBlocksDestructiveCategory(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "danger", Input: json.RawMessage(`{}`)}}},
		{text: "acknowledged"},
	}}
	f := newFixture(t, provider, Config{Mode: autonomy.ModeObserver}, &dangerTool{})

	out := f.handle(t, "do something dangerous")
	if out.Content != "acknowledged" {
		t.Fatalf("outbound = %q", out.Content)
	}

	session, _ := f.store.Load("cli:c1")
	var blocked bool
	for _, msg := range session.Messages {
		for _, tr := range msg.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "blocked") {
				blocked = true
			}
		}
	}
	if !blocked {
		t.Fatal("blocked tool result not fed back to the model")
	}
}

type dangerTool struct{}

func (d *dangerTool) Name() string                { return "danger" }
func (d *dangerTool) Description() string         { return "dangerous" }
func (d *dangerTool) CompactDescription() string  { return "danger" }
func (d *dangerTool) Category() autonomy.Category { return autonomy.CategoryDestructive }
func (d *dangerTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (d *dangerTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return "boom", nil
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "no_such_tool", Input: json.RawMessage(`{}`)}}},
		{text: "sorry about that"},
	}}
	f := newFixture(t, provider, Config{})

	out := f.handle(t, "use a tool")
	if out.Content != "sorry about that" {
		t.Fatalf("outbound = %q", out.Content)
	}
}

func TestSanitizerAppliedToToolResults(t *testing.T) {
	provider := &fakeProvider{steps: []step{
		{toolCalls: []models.ToolCall{{ID: "A", Name: "hexdump", Input: json.RawMessage(`{}`)}}},
		{text: "ok"},
	}}
	f := newFixture(t, provider, Config{}, &hexTool{})
	f.handle(t, "dump")

	session, _ := f.store.Load("cli:c1")
	for _, msg := range session.Messages {
		for _, tr := range msg.ToolResults {
			if strings.Contains(tr.Content, strings.Repeat("ab", 150)) {
				t.Fatal("raw hex reached the transcript")
			}
			if !strings.Contains(tr.Content, "[hex data removed") {
				t.Fatalf("sanitizer note missing: %q", tr.Content)
			}
		}
	}
}

type hexTool struct{}

func (h *hexTool) Name() string                { return "hexdump" }
func (h *hexTool) Description() string         { return "dump hex" }
func (h *hexTool) CompactDescription() string  { return "hex" }
func (h *hexTool) Category() autonomy.Category { return autonomy.CategoryMemory }
func (h *hexTool) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (h *hexTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return "header " + strings.Repeat("ab", 300) + " footer", nil
}

func TestStreamingDeltasForwarded(t *testing.T) {
	provider := &fakeProvider{steps: []step{{text: "streamed text"}}}
	f := newFixture(t, provider, Config{})

	var mu sync.Mutex
	var deltas []string
	f.loop.SetDeltaSink(func(sessionKey, delta string) {
		mu.Lock()
		deltas = append(deltas, delta)
		mu.Unlock()
	})

	out := f.handle(t, "stream it")
	if out.Content != "streamed text" {
		t.Fatalf("outbound = %q", out.Content)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(deltas, "") != "streamed text" {
		t.Fatalf("deltas = %v", deltas)
	}
}
