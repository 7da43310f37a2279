package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/memory"
)

// Backend is the durable side of State.
type Backend interface {
	LoadConversations(ctx context.Context) (map[memory.Key][]memory.Message, error)
	SaveConversation(ctx context.Context, key memory.Key, msgs []memory.Message) error
	DeleteUserConversations(ctx context.Context, userID string) (int64, error)
	LoadAllFacts(ctx context.Context) (map[string]facts.Facts, error)
	UpsertFacts(ctx context.Context, userID string, f facts.Facts) error
	DeleteFacts(ctx context.Context, userID string) error
}

// State holds conversation history and user facts in memory and writes
// them through to a Backend. A nil Backend keeps everything in memory.
type State struct {
	curator *memory.Curator
	backend Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	facts map[string]facts.Facts

	locks keyLocks
}

// NewState creates an empty State around curator.
func NewState(curator *memory.Curator, backend Backend, logger *slog.Logger) *State {
	if curator == nil {
		curator = memory.NewCurator(memory.CuratorConfig{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		curator: curator,
		backend: backend,
		logger:  logger,
		facts:   make(map[string]facts.Facts),
	}
}

// Curator returns the history curator.
func (s *State) Curator() *memory.Curator { return s.curator }

// Load fills the state from the backend. Whatever fails to load is logged
// and left empty; the returned error is informational.
func (s *State) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	var firstErr error

	convs, err := s.backend.LoadConversations(ctx)
	if err != nil {
		s.logger.Warn("history load failed, starting empty", "err", err)
		firstErr = err
	}
	for key, msgs := range convs {
		s.curator.Replace(key, msgs)
	}

	all, err := s.backend.LoadAllFacts(ctx)
	if err != nil {
		s.logger.Warn("facts load failed, starting empty", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	s.mu.Lock()
	for user, f := range all {
		s.facts[user] = f
	}
	s.mu.Unlock()

	s.logger.Info("conversation state loaded", "conversations", len(convs), "users_with_facts", len(all))
	return firstErr
}

// Save persists the normalized history of key.
func (s *State) Save(ctx context.Context, key memory.Key) error {
	if s.backend == nil {
		return nil
	}
	return s.backend.SaveConversation(ctx, key, s.curator.Normalized(key))
}

// SaveAll persists every conversation, returning the first error.
func (s *State) SaveAll(ctx context.Context) error {
	var firstErr error
	for _, key := range s.curator.Keys() {
		if err := s.Save(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Facts returns a copy of userID's fact record, never nil.
func (s *State) Facts(userID string) facts.Facts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f := s.facts[userID].Clone(); f != nil {
		return f
	}
	return facts.Facts{}
}

// MergeFacts merges update into userID's record and persists the changed
// entries. The merged record is returned even when persisting fails.
func (s *State) MergeFacts(ctx context.Context, userID string, update facts.Facts) (facts.Facts, error) {
	s.mu.Lock()
	changed := facts.Changed(s.facts[userID], update)
	merged := facts.Merge(s.facts[userID], update)
	s.facts[userID] = merged
	s.mu.Unlock()

	if s.backend == nil || len(changed) == 0 {
		return merged.Clone(), nil
	}
	return merged.Clone(), s.backend.UpsertFacts(ctx, userID, changed)
}

// ForgetFacts drops userID's fact record.
func (s *State) ForgetFacts(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.facts, userID)
	s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	return s.backend.DeleteFacts(ctx, userID)
}

// ForgetHistory drops every conversation of userID and returns how many
// were held in memory.
func (s *State) ForgetHistory(ctx context.Context, userID string) (int, error) {
	n := s.curator.ClearUser(userID)
	if s.backend == nil {
		return n, nil
	}
	_, err := s.backend.DeleteUserConversations(ctx, userID)
	return n, err
}

// keyLocks serialises turns per conversation key.
type keyLocks struct {
	mu sync.Mutex
	m  map[memory.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) lock(key memory.Key) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[memory.Key]*keyLock)
	}
	kl := l.m[key]
	if kl == nil {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
