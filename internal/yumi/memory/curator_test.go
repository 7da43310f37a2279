package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestCurator_Scenario(t *testing.T) {
	c := NewCurator(CuratorConfig{})
	key := Key{UserID: "u1", GuildID: "g1", ChannelID: "c1"}
	if key.String() != "u1_g1_c1" {
		t.Fatalf("key = %q", key)
	}
	if got := c.RelevantContext(key); len(got) != 0 {
		t.Fatalf("new conversation not empty: %v", got)
	}

	c.Append(key, msg(RoleUser, "hi"))
	c.Append(key, msg(RoleAssistant, "hello"))

	got := c.RelevantContext(key)
	if len(got) != 2 || got[0] != msg(RoleUser, "hi") || got[1] != msg(RoleAssistant, "hello") {
		t.Fatalf("RelevantContext = %v", got)
	}
}

func TestCurator_AppendBoundedAndDeduplicated(t *testing.T) {
	c := NewCurator(CuratorConfig{})
	key := Key{UserID: "u", ChannelID: "c"}
	if !c.Append(key, msg(RoleUser, "same")) {
		t.Fatal("first append rejected")
	}
	if c.Append(key, msg(RoleUser, "same")) {
		t.Fatal("repeated user message stored")
	}
	for i := 0; i < 2*TotalHistoryLength; i++ {
		c.Append(key, msg(RoleAssistant, fmt.Sprintf("r%d", i)))
	}
	msgs := c.Messages(key)
	if len(msgs) != TotalHistoryLength {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Content != fmt.Sprintf("r%d", TotalHistoryLength) {
		t.Errorf("oldest = %q", msgs[0].Content)
	}
}

func TestCurator_ReplaceNormalizes(t *testing.T) {
	c := NewCurator(CuratorConfig{Capacity: 3})
	key := Key{UserID: "u", ChannelID: "c"}
	c.Replace(key, []Message{
		msg(RoleUser, "a"), msg(RoleUser, "b"),
		msg(RoleAssistant, "*nods* sure"),
		msg(RoleUser, "c"), msg(RoleAssistant, "d"), msg(RoleUser, "e"),
	})
	got := contents(c.Messages(key))
	if len(got) != 3 || got[0] != "c" || got[2] != "e" {
		t.Fatalf("Replace kept %v", got)
	}
}

func TestCurator_ClearUser(t *testing.T) {
	c := NewCurator(CuratorConfig{})
	a1 := Key{UserID: "a", GuildID: "g", ChannelID: "1"}
	a2 := Key{UserID: "a", ChannelID: "2"}
	b := Key{UserID: "a_b", GuildID: "g", ChannelID: "1"}
	for _, k := range []Key{a1, a2, b} {
		c.Append(k, msg(RoleUser, "x"))
	}
	if n := c.ClearUser("a"); n != 2 {
		t.Fatalf("ClearUser removed %d", n)
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != b {
		t.Fatalf("remaining keys %v", keys)
	}
	if !c.Clear(b) || c.Clear(b) {
		t.Error("Clear should report existence once")
	}
}

func TestCurator_ConcurrentKeysIndependent(t *testing.T) {
	c := NewCurator(CuratorConfig{})
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			key := Key{UserID: fmt.Sprint(u), ChannelID: "c"}
			for i := 0; i < 50; i++ {
				c.Append(key, msg(RoleUser, fmt.Sprintf("q%d", i)))
				c.Append(key, msg(RoleAssistant, fmt.Sprintf("a%d", i)))
			}
		}(u)
	}
	wg.Wait()
	for u := 0; u < 8; u++ {
		msgs := c.Messages(Key{UserID: fmt.Sprint(u), ChannelID: "c"})
		if len(msgs) != TotalHistoryLength {
			t.Fatalf("user %d: len %d", u, len(msgs))
		}
		for i := 0; i < len(msgs); i += 2 {
			if msgs[i].Role != RoleUser || msgs[i+1].Role != RoleAssistant {
				t.Fatalf("user %d: interleaving broken at %d", u, i)
			}
		}
	}
}
