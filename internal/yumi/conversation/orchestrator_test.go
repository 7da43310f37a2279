package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/llm"
	"github.com/yumisugoi/yumi/internal/yumi/memory"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
)

// scriptedLLM answers fact-extraction prompts with factsReply and every
// other prompt with chat(req).
type scriptedLLM struct {
	mu        sync.Mutex
	factsJSON string
	chat      func(req llm.Request) (string, error)
	chats     []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	if strings.Contains(req.Prompt, "Already known:") {
		if s.factsJSON == "" {
			return "{}", nil
		}
		return s.factsJSON, nil
	}
	s.mu.Lock()
	s.chats = append(s.chats, req)
	s.mu.Unlock()
	return s.chat(req)
}

func (s *scriptedLLM) lastChat() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[len(s.chats)-1]
}

type memBackend struct {
	mu      sync.Mutex
	convs   map[memory.Key][]memory.Message
	facts   map[string]facts.Facts
	loadErr error
	saves   int
}

func newMemBackend() *memBackend {
	return &memBackend{convs: map[memory.Key][]memory.Message{}, facts: map[string]facts.Facts{}}
}

func (b *memBackend) LoadConversations(context.Context) (map[memory.Key][]memory.Message, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.convs, nil
}

func (b *memBackend) SaveConversation(_ context.Context, key memory.Key, msgs []memory.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs[key] = msgs
	b.saves++
	return nil
}

func (b *memBackend) DeleteUserConversations(_ context.Context, userID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k, msgs := range b.convs {
		if k.UserID == userID {
			n += int64(len(msgs))
			delete(b.convs, k)
		}
	}
	return n, nil
}

func (b *memBackend) LoadAllFacts(context.Context) (map[string]facts.Facts, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.facts, nil
}

func (b *memBackend) UpsertFacts(_ context.Context, userID string, f facts.Facts) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.facts[userID] = facts.Merge(b.facts[userID], f)
	return nil
}

func (b *memBackend) DeleteFacts(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.facts, userID)
	return nil
}

type harness struct {
	orch    *Orchestrator
	state   *State
	modes   *persona.Modes
	llm     *scriptedLLM
	backend *memBackend
	learned map[string]facts.Facts
}

func newHarness(t *testing.T, chat func(llm.Request) (string, error)) *harness {
	t.Helper()
	h := &harness{
		llm:     &scriptedLLM{chat: chat},
		backend: newMemBackend(),
		learned: map[string]facts.Facts{},
	}
	composer := persona.NewComposer(nil, nil, nil)
	h.modes = persona.NewModes(composer, nil, nil)
	h.state = NewState(nil, h.backend, nil)
	var mu sync.Mutex
	h.orch = New(Config{
		State:     h.state,
		Modes:     h.modes,
		Composer:  composer,
		Extractor: facts.NewExtractor(h.llm, facts.Config{CommandPrefix: "!yumi"}, nil),
		Generator: llm.NewGenerator(h.llm, llm.GeneratorConfig{RetryDelay: time.Millisecond}, nil),
		OnFactsLearned: func(_ context.Context, userID string, f facts.Facts) {
			mu.Lock()
			h.learned[userID] = f
			mu.Unlock()
		},
	})
	return h
}

func replyWith(text string) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return text, nil }
}

var key = memory.Key{UserID: "u1", GuildID: "g1", ChannelID: "c1"}

func TestHandleTurn_LearnsFactsAndReplies(t *testing.T) {
	h := newHarness(t, replyWith("Nice to meet you, Alex! Tokyo sounds amazing."))
	h.llm.factsJSON = `{"name": "Alex", "location": "Tokyo"}`

	reply, err := h.orch.HandleTurn(context.Background(), Turn{Key: key, Content: "my name is Alex and I live in Tokyo"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply.Text != "Nice to meet you, Alex! Tokyo sounds amazing." {
		t.Fatalf("reply = %q", reply.Text)
	}
	if reply.Persona != persona.Normal || reply.TraceID == "" {
		t.Fatalf("reply meta = %+v", reply)
	}
	if got := h.state.Facts("u1"); got["name"] != "Alex" || got["location"] != "Tokyo" {
		t.Fatalf("state facts = %v", got)
	}
	if h.backend.facts["u1"]["location"] != "Tokyo" {
		t.Fatalf("facts not persisted: %v", h.backend.facts)
	}
	if h.learned["u1"]["name"] != "Alex" {
		t.Fatalf("OnFactsLearned not called: %v", h.learned)
	}
	if !strings.Contains(h.llm.lastChat().Prompt, "Name: Alex") {
		t.Fatalf("prompt lacks learned fact: %q", h.llm.lastChat().Prompt)
	}

	saved := h.backend.convs[key]
	if len(saved) != 2 || saved[0].Role != memory.RoleUser || saved[1].Role != memory.RoleAssistant {
		t.Fatalf("saved history = %+v", saved)
	}
}

func TestHandleTurn_KnownFactsReachPrompt(t *testing.T) {
	h := newHarness(t, replyWith("Your name is Sam, silly!"))
	if _, err := h.state.MergeFacts(context.Background(), "u1", facts.Facts{"name": "Sam"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.HandleTurn(context.Background(), Turn{Key: key, Content: "what's my name"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.llm.lastChat().Prompt, "Name: Sam") {
		t.Fatalf("prompt = %q", h.llm.lastChat().Prompt)
	}
}

func TestHandleTurn_UsesResolvedPersona(t *testing.T) {
	h := newHarness(t, replyWith("I-it's not like I missed you!"))
	ctx := context.Background()
	h.modes.Set(ctx, persona.ScopeFor("g1", "u1"), "nerd")
	h.modes.SetChannel(ctx, "c1", "tsundere")

	reply, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: "hey there"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Persona != "tsundere" {
		t.Fatalf("persona = %q", reply.Persona)
	}
	tsun, _ := persona.DefaultTable().Get("tsundere")
	if !strings.Contains(h.llm.lastChat().System, tsun.Directive) {
		t.Fatal("system prompt lacks the tsundere directive")
	}
}

func TestHandleTurn_HistoryExcludesCurrentMessage(t *testing.T) {
	n := 0
	h := newHarness(t, func(llm.Request) (string, error) {
		n++
		return fmt.Sprintf("reply number %d here", n), nil
	})
	ctx := context.Background()
	if _, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: "first message"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: "second message"}); err != nil {
		t.Fatal(err)
	}
	prompt := h.llm.lastChat().Prompt
	if !strings.Contains(prompt, "User: first message\nYumi: reply number 1 here") {
		t.Fatalf("prompt lacks history: %q", prompt)
	}
	if strings.Contains(prompt, "User: second message") {
		t.Fatalf("current message repeated in history: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "second message") {
		t.Fatalf("prompt must end with the user message: %q", prompt)
	}
}

func TestHandleTurn_FallbackIsStillAReply(t *testing.T) {
	h := newHarness(t, func(llm.Request) (string, error) { return "", errors.New("connection refused") })
	reply, err := h.orch.HandleTurn(context.Background(), Turn{Key: key, Content: "hello?"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Fallback != llm.FallbackConnection || reply.Text != llm.ConnectionFallbackMessage {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHandleTurn_PanicIsolated(t *testing.T) {
	h := newHarness(t, func(req llm.Request) (string, error) {
		if strings.HasSuffix(req.Prompt, "boom") {
			panic("backend exploded")
		}
		return "all good over here", nil
	})
	ctx := context.Background()
	if _, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: "boom"}); err == nil {
		t.Fatal("expected an error from a panicking turn")
	}
	other := memory.Key{UserID: "u2", GuildID: "g1", ChannelID: "c1"}
	reply, err := h.orch.HandleTurn(ctx, Turn{Key: other, Content: "hi there"})
	if err != nil || reply.Text != "all good over here" {
		t.Fatalf("other conversation affected: %+v, %v", reply, err)
	}
	// the same key is not left locked
	if _, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: "still there?"}); err != nil {
		t.Fatal(err)
	}
}

func TestHandleTurn_EmptyMessage(t *testing.T) {
	h := newHarness(t, replyWith("unused reply text"))
	if _, err := h.orch.HandleTurn(context.Background(), Turn{Key: key, Content: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleTurn_SameKeySerialised(t *testing.T) {
	h := newHarness(t, replyWith("got it, thanks friend"))
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.orch.HandleTurn(ctx, Turn{Key: key, Content: fmt.Sprintf("message %d", i)}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	msgs := h.state.Curator().Messages(key)
	if len(msgs) != 16 {
		t.Fatalf("len = %d, want 16", len(msgs))
	}
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != memory.RoleUser || msgs[i+1].Role != memory.RoleAssistant {
			t.Fatalf("interleaved turns at %d: %+v", i, msgs[i:i+2])
		}
	}
}

func TestState_LoadFailureStartsEmpty(t *testing.T) {
	b := newMemBackend()
	b.loadErr = errors.New("corrupt file")
	s := NewState(nil, b, nil)
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected load error to be reported")
	}
	if len(s.Curator().Keys()) != 0 || len(s.Facts("u1")) != 0 {
		t.Fatal("state should be empty")
	}
}

func TestState_LoadNormalizes(t *testing.T) {
	b := newMemBackend()
	b.convs[key] = []memory.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleUser, Content: "there"},
		{Role: memory.RoleAssistant, Content: "Yumi: hey!"},
	}
	b.facts["u1"] = facts.Facts{"name": "Sam"}
	s := NewState(nil, b, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := s.Curator().Messages(key)
	if len(got) != 2 || got[0].Content != "hi there" || got[1].Content != "hey!" {
		t.Fatalf("loaded = %+v", got)
	}
	if s.Facts("u1")["name"] != "Sam" {
		t.Fatal("facts not loaded")
	}
}

func TestState_Forget(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	s := NewState(nil, b, nil)
	s.Curator().Append(key, memory.NewMessage(memory.RoleUser, "hi"))
	if err := s.Save(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeFacts(ctx, "u1", facts.Facts{"name": "Sam"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.ForgetHistory(ctx, "u1")
	if err != nil || n != 1 || len(b.convs) != 0 {
		t.Fatalf("ForgetHistory = %d, %v; backend %v", n, err, b.convs)
	}
	if err := s.ForgetFacts(ctx, "u1"); err != nil || len(s.Facts("u1")) != 0 || len(b.facts) != 0 {
		t.Fatalf("ForgetFacts left %v / %v (%v)", s.Facts("u1"), b.facts, err)
	}
}
