package memory

import (
	"fmt"
	"reflect"
	"testing"
)

func TestDefaultPolicy_Classify(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		content string
		want    string
	}{
		{"do you remember my cat?", "recall"},
		{"what were we talking about", "recall"},
		{"where do you live", "question"},
		{"is that right?", "question"},
		{"I'm at work right now", "status"},
		{"busy day", "status"},
		{"i love ramen", "preference"},
		{"my sister visited", "fact"},
		{"I am a nurse", "fact"},
		{"anyway, back to it", "transition"},
		{"speaking of ramen", "transition"},
		{"the myth of sisyphus", ""},
		{"ok", ""},
		{"butterflies everywhere", ""},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			class, ok := p.Classify(tt.content)
			got := ""
			if ok {
				got = class.Name
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestParsePolicy_Rejects(t *testing.T) {
	bad := map[string]string{
		"no classes":    "version: 1\n",
		"no patterns":   "classes:\n  - name: x\n",
		"unknown topic": "classes:\n  - name: x\n    phrases: [a]\n    sets_topic: nope\n",
		"not yaml":      "classes: [",
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// filler returns n unclassified messages.
func filler(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = msg(RoleUser, fmt.Sprintf("ok %d", i))
	}
	return out
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSelect_ShortQueueReturnedVerbatim(t *testing.T) {
	in := []Message{msg(RoleUser, "hi"), msg(RoleAssistant, "hello")}
	got := DefaultPolicy().Select(in, ContextWindowSize)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %v", got)
	}
}

func TestSelect_RecentWindowAlwaysLast(t *testing.T) {
	p := DefaultPolicy()
	for _, n := range []int{1, 29, 30, 31, 75, 100} {
		in := filler(n)
		if n > 3 {
			in[0] = msg(RoleUser, "i love tea")
		}
		got := p.Select(in, ContextWindowSize)
		w := min(n, ContextWindowSize)
		if len(got) < w {
			t.Fatalf("n=%d: got %d messages, want at least %d", n, len(got), w)
		}
		if !reflect.DeepEqual(got[len(got)-w:], in[n-w:]) {
			t.Errorf("n=%d: recent window not preserved", n)
		}
	}
}

func TestSelect_RecallPullsPreceding(t *testing.T) {
	older := []Message{
		msg(RoleUser, "ok a"),
		msg(RoleUser, "ok b"),
		msg(RoleUser, "ok c"),
		msg(RoleUser, "ok d"),
		msg(RoleUser, "ok e"),
		msg(RoleUser, "ok f"),
		msg(RoleUser, "ok g"),
		msg(RoleUser, "can you recall that"),
	}
	in := append(older, filler(ContextWindowSize)...)
	got := DefaultPolicy().Select(in, ContextWindowSize)
	want := []string{"ok c", "ok d", "ok e", "ok f", "ok g", "can you recall that"}
	if !reflect.DeepEqual(contents(got[:len(want)]), want) {
		t.Errorf("retained %v, want prefix %v", contents(got[:len(got)-ContextWindowSize]), want)
	}
	if len(got) != len(want)+ContextWindowSize {
		t.Errorf("len = %d", len(got))
	}
}

func TestSelect_QuestionPullsAnswerAndTransitionPullsPrevious(t *testing.T) {
	older := []Message{
		msg(RoleUser, "ok zero"),
		msg(RoleUser, "where are you from"),
		msg(RoleAssistant, "osaka"),
		msg(RoleUser, "ok one"),
		msg(RoleUser, "ok two"),
		msg(RoleUser, "so, moving on"),
	}
	in := append(older, filler(ContextWindowSize)...)
	got := DefaultPolicy().Select(in, ContextWindowSize)
	want := []string{"where are you from", "osaka", "ok two", "so, moving on"}
	if !reflect.DeepEqual(contents(got[:len(got)-ContextWindowSize]), want) {
		t.Errorf("retained %v, want %v", contents(got[:len(got)-ContextWindowSize]), want)
	}
}

func TestSelect_TopicContinuation(t *testing.T) {
	older := []Message{
		msg(RoleUser, "the music was loud"),
		msg(RoleUser, "ok unrelated"),
		msg(RoleUser, "i enjoy concerts"),
	}
	in := append(older, filler(ContextWindowSize)...)
	got := DefaultPolicy().Select(in, ContextWindowSize)
	want := []string{"the music was loud", "i enjoy concerts"}
	if !reflect.DeepEqual(contents(got[:len(got)-ContextWindowSize]), want) {
		t.Errorf("retained %v, want %v", contents(got[:len(got)-ContextWindowSize]), want)
	}
}

func TestSelect_DropsDuplicatesOfWindow(t *testing.T) {
	recent := filler(ContextWindowSize)
	recent[3] = msg(RoleUser, "i love tea")
	in := append([]Message{msg(RoleUser, "i love tea")}, recent...)
	got := DefaultPolicy().Select(in, ContextWindowSize)
	if len(got) != ContextWindowSize {
		t.Fatalf("duplicate retained: %v", contents(got))
	}
}
