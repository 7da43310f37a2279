package persona

import (
	"context"
	"testing"
)

type memModeStore struct {
	modes    map[string]string
	channels map[string]string
}

func newMemModeStore() *memModeStore {
	return &memModeStore{modes: map[string]string{}, channels: map[string]string{}}
}

func (s *memModeStore) LoadModes(context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range s.modes {
		out[k] = v
	}
	return out, nil
}

func (s *memModeStore) SaveMode(_ context.Context, scope, name string) error {
	if name == "" {
		delete(s.modes, scope)
		return nil
	}
	s.modes[scope] = name
	return nil
}

func (s *memModeStore) LoadChannelPersonas(context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range s.channels {
		out[k] = v
	}
	return out, nil
}

func (s *memModeStore) SaveChannelPersona(_ context.Context, channelID, name string) error {
	if name == "" {
		delete(s.channels, channelID)
		return nil
	}
	s.channels[channelID] = name
	return nil
}

func TestModes_ResolveOrder(t *testing.T) {
	ctx := context.Background()
	m := NewModes(NewComposer(nil, nil, nil), nil, nil)

	if got := m.Resolve("c1", "g1", "u1"); got != Normal {
		t.Fatalf("empty state = %q, want normal", got)
	}
	m.Set(ctx, GlobalScope, "chill")
	if got := m.Resolve("c1", "g1", "u1"); got != "chill" {
		t.Fatalf("global = %q", got)
	}
	m.Set(ctx, ScopeFor("g1", "u1"), "nerd")
	if got := m.Resolve("c1", "g1", "u1"); got != "nerd" {
		t.Fatalf("guild = %q", got)
	}
	if got := m.Resolve("c9", "g2", "u1"); got != "chill" {
		t.Fatalf("other guild = %q", got)
	}
	m.SetChannel(ctx, "c1", "shy")
	if got := m.Resolve("c1", "g1", "u1"); got != "shy" {
		t.Fatalf("channel = %q", got)
	}
	m.Set(ctx, ScopeFor("", "u1"), "gamer")
	if got := m.Resolve("dmchan", "", "u1"); got != "gamer" {
		t.Fatalf("dm = %q", got)
	}
}

func TestModes_UnknownRejected(t *testing.T) {
	ctx := context.Background()
	m := NewModes(NewComposer(nil, nil, nil), nil, nil)
	scope := ScopeFor("g1", "")
	if !m.Set(ctx, scope, "Tsundere") {
		t.Fatal("Set(tsundere) = false")
	}
	if m.Set(ctx, scope, "nonexistent") {
		t.Fatal("Set(nonexistent) = true")
	}
	if got, _ := m.Scope(scope); got != "tsundere" {
		t.Fatalf("mode = %q, want tsundere unchanged", got)
	}
	if !m.Set(ctx, scope, "normal") {
		t.Fatal("normal must always succeed")
	}
	if m.SetChannel(ctx, "c1", "nope") {
		t.Fatal("SetChannel(nope) = true")
	}
}

func TestModes_CustomPersona(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.m["pirate"] = Custom{Name: "pirate", Creator: "u1", Description: "arr"}
	store := newMemModeStore()
	m := NewModes(NewComposer(nil, repo, nil), store, nil)

	if !m.Set(ctx, "guild_g1", "pirate") || !m.SetChannel(ctx, "c1", "pirate") {
		t.Fatal("custom persona rejected")
	}
	m.Forget(ctx, "pirate")
	if got := m.Resolve("c1", "g1", "u1"); got != Normal {
		t.Fatalf("after Forget = %q", got)
	}
	if len(store.modes) != 0 || len(store.channels) != 0 {
		t.Fatalf("store not cleared: %v %v", store.modes, store.channels)
	}
}

func TestModes_LoadPersisted(t *testing.T) {
	ctx := context.Background()
	store := newMemModeStore()
	composer := NewComposer(nil, nil, nil)

	first := NewModes(composer, store, nil)
	first.Set(ctx, "guild_g1", "grumpy")
	first.SetChannel(ctx, "c7", "comedian")

	second := NewModes(composer, store, nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := second.Resolve("c7", "g1", "u1"); got != "comedian" {
		t.Fatalf("channel after load = %q", got)
	}
	if !second.ClearChannel(ctx, "c7") {
		t.Fatal("ClearChannel = false")
	}
	if got := second.Resolve("c7", "g1", "u1"); got != "grumpy" {
		t.Fatalf("guild after clear = %q", got)
	}
	if second.ClearChannel(ctx, "c7") {
		t.Fatal("second ClearChannel = true")
	}
}
