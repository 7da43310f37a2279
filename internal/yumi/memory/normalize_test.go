package memory

import (
	"reflect"
	"testing"
)

func msg(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

func TestProcessMessageQueue(t *testing.T) {
	tests := []struct {
		name string
		in   []Message
		want []Message
	}{
		{
			name: "consecutive user messages merge",
			in:   []Message{msg(RoleUser, "hey"), msg(RoleUser, "  are you   there"), msg(RoleAssistant, "yes!")},
			want: []Message{msg(RoleUser, "hey are you there"), msg(RoleAssistant, "yes!")},
		},
		{
			name: "repeated user line dropped",
			in:   []Message{msg(RoleUser, "hello"), msg(RoleUser, "hello"), msg(RoleUser, "hello")},
			want: []Message{msg(RoleUser, "hello")},
		},
		{
			name: "assistant asides and tags stripped",
			in:   []Message{msg(RoleAssistant, "*smiles warmly* Hi <b>there</b>   friend")},
			want: []Message{msg(RoleAssistant, "Hi there friend")},
		},
		{
			name: "invented user turn removed",
			in:   []Message{msg(RoleAssistant, "Sure thing.\nUser: thanks yumi\nYumi: anytime")},
			want: []Message{msg(RoleAssistant, "Sure thing.")},
		},
		{
			name: "speaker prefix removed",
			in:   []Message{msg(RoleAssistant, "Yumi: hi hi")},
			want: []Message{msg(RoleAssistant, "hi hi")},
		},
		{
			name: "empty assistant dropped and neighbours merge",
			in:   []Message{msg(RoleUser, "one"), msg(RoleAssistant, "*waves*"), msg(RoleUser, "two")},
			want: []Message{msg(RoleUser, "one two")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProcessMessageQueue(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestProcessMessageQueue_Idempotent(t *testing.T) {
	queues := [][]Message{
		{msg(RoleUser, "a"), msg(RoleUser, "b"), msg(RoleUser, "b"), msg(RoleAssistant, "**bold** <i>x</i>")},
		{msg(RoleAssistant, "<*a*> *<b>* ok"), msg(RoleUser, "  spaced\tout  "), msg(RoleAssistant, "User: fake")},
		{msg(RoleUser, "x"), msg(RoleAssistant, "Yumi: Yumi: nested"), msg(RoleUser, "x"), msg(RoleUser, "x y")},
		nil,
	}
	for i, q := range queues {
		once := ProcessMessageQueue(q)
		twice := ProcessMessageQueue(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("queue %d not idempotent:\nonce  %#v\ntwice %#v", i, once, twice)
		}
		for j := 1; j < len(once); j++ {
			if once[j].Role == RoleUser && once[j-1].Role == RoleUser {
				t.Errorf("queue %d: consecutive user messages remain at %d", i, j)
			}
		}
		for _, m := range once {
			if m.Content == "" {
				t.Errorf("queue %d: empty message kept", i)
			}
		}
	}
}
