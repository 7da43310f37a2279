package commands_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/internal/yumi/chat"
	"github.com/yumisugoi/yumi/internal/yumi/commands"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

type memRepo struct {
	mu sync.Mutex
	m  map[string]persona.Custom
}

func (r *memRepo) GetPersona(_ context.Context, name string) (persona.Custom, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[name]
	return c, ok, nil
}

func (r *memRepo) PutPersona(_ context.Context, c persona.Custom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.Name] = c
	return nil
}

func (r *memRepo) ListPersonas(context.Context) ([]persona.Custom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persona.Custom, 0, len(r.m))
	for _, c := range r.m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) DeletePersona(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, name)
	return nil
}

type fakeMemory struct {
	facts     map[string]facts.Facts
	forgotten []string
}

func (m *fakeMemory) Facts(userID string) facts.Facts { return m.facts[userID].Clone() }

func (m *fakeMemory) MergeFacts(_ context.Context, userID string, update facts.Facts) (facts.Facts, error) {
	m.facts[userID] = facts.Merge(m.facts[userID], update)
	return m.facts[userID].Clone(), nil
}

func (m *fakeMemory) ForgetFacts(_ context.Context, userID string) error {
	delete(m.facts, userID)
	return nil
}

func (m *fakeMemory) ForgetHistory(_ context.Context, userID string) (int, error) {
	m.forgotten = append(m.forgotten, userID)
	return 2, nil
}

type fakeLockdown struct{ locked map[string]bool }

func (l *fakeLockdown) Lock(_ context.Context, guildID, channelID string) error {
	l.locked[guildID+"/"+channelID] = true
	return nil
}

func (l *fakeLockdown) Unlock(_ context.Context, guildID, channelID string) (bool, error) {
	was := l.locked[guildID+"/"+channelID]
	delete(l.locked, guildID+"/"+channelID)
	return was, nil
}

type fakeProgress struct{}

func (fakeProgress) GetProgress(_ context.Context, userID string) (store.Progress, error) {
	return store.Progress{UserID: userID, XP: 45, Level: 3}, nil
}

type announcement struct {
	channel, author, message string
	due                      time.Time
}

type fakeAnnouncements struct{ queued []announcement }

func (a *fakeAnnouncements) ScheduleAnnouncement(_ context.Context, channelID, authorID, message string, due time.Time) error {
	a.queued = append(a.queued, announcement{channelID, authorID, message, due})
	return nil
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	channel string
	evt     *envelope.Event
}

type recNotifier struct{ sent []sent }

func (n *recNotifier) Notify(_ context.Context, channel string, evt *envelope.Event) {
	n.sent = append(n.sent, sent{channel, evt})
}

type harness struct {
	router   *commands.Router
	modes    *persona.Modes
	memory   *fakeMemory
	lockdown *fakeLockdown
	notifier *recNotifier
	announce *fakeAnnouncements
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &memRepo{m: map[string]persona.Custom{}}
	composer := persona.NewComposer(nil, repo, logger)
	h := &harness{
		router:   commands.NewRouter("!yumi"),
		modes:    persona.NewModes(composer, nil, logger),
		memory:   &fakeMemory{facts: map[string]facts.Facts{}},
		lockdown: &fakeLockdown{locked: map[string]bool{}},
		notifier: &recNotifier{},
		announce: &fakeAnnouncements{},
	}
	commands.NewHandlers(h.router, commands.Config{
		Modes:    h.modes,
		Composer: composer,
		Catalog:  persona.NewCatalog(nil, repo),
		Memory:   h.memory,
		Lockdown: h.lockdown,
		Progress: fakeProgress{},
		Notifier: h.notifier,
		Logger:   logger,

		Announcements: h.announce,
		Now:           func() time.Time { return testNow },
	})
	return h
}

func (h *harness) run(t *testing.T, msg chat.Message, text string) string {
	t.Helper()
	reply, err := h.router.Route(context.Background(), text, msg)
	if err != nil {
		t.Fatalf("Route(%q): %v", text, err)
	}
	return reply
}

var (
	member = chat.Message{ChannelID: "c1", GuildID: "g1", AuthorID: "u1"}
	other  = chat.Message{ChannelID: "c1", GuildID: "g1", AuthorID: "u2"}
	admin  = chat.Message{ChannelID: "c1", GuildID: "g1", AuthorID: "boss", IsAdmin: true}
)

func TestHelp(t *testing.T) {
	h := newHarness(t)
	reply := h.run(t, member, "!yumi help")
	if !strings.Contains(reply, "!yumi mode [name]") || !strings.Contains(reply, "!yumi_mode shy") {
		t.Fatalf("help = %q", reply)
	}
	if bare := h.run(t, member, "!yumi"); bare != reply {
		t.Fatal("bare prefix should show help")
	}
}

func TestMode(t *testing.T) {
	h := newHarness(t)

	if reply := h.run(t, member, "!yumi mode"); !strings.Contains(reply, "**normal**") {
		t.Fatalf("current mode = %q", reply)
	}
	reply := h.run(t, member, "!yumi_mode Shy")
	if !strings.Contains(reply, "Now in **shy** mode") {
		t.Fatalf("switch reply = %q", reply)
	}
	if got := h.modes.Resolve("c9", "g1", "u1"); got != "shy" {
		t.Fatalf("guild persona = %q", got)
	}
	if got := h.modes.Resolve("c9", "g2", "u1"); got != persona.Normal {
		t.Fatalf("other guild persona = %q", got)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].channel != events.ChannelServer ||
		h.notifier.sent[0].evt.Type != events.EvtPersonaChanged || h.notifier.sent[0].evt.GuildID != "g1" {
		t.Fatalf("notifications = %+v", h.notifier.sent)
	}

	if reply := h.run(t, member, "!yumi mode pirate"); !strings.Contains(reply, "don't know") {
		t.Fatalf("unknown mode reply = %q", reply)
	}
	if got := h.modes.Resolve("c9", "g1", "u1"); got != "shy" {
		t.Fatalf("unknown mode changed state to %q", got)
	}
}

func TestMode_DMUsesUserScope(t *testing.T) {
	h := newHarness(t)
	dm := chat.Message{ChannelID: "dm1", AuthorID: "u1"}
	h.run(t, dm, "!yumi mode nerd")
	if got, _ := h.modes.Scope(persona.ScopeFor("", "u1")); got != "nerd" {
		t.Fatalf("user scope = %q", got)
	}
}

func TestPersonaLifecycle(t *testing.T) {
	h := newHarness(t)

	reply := h.run(t, member, "!yumi persona create pirate Talks like a pirate, arr")
	if !strings.Contains(reply, "**pirate** created") {
		t.Fatalf("create = %q", reply)
	}
	if reply := h.run(t, other, "!yumi persona create pirate Another one"); !strings.Contains(reply, "already taken") {
		t.Fatalf("duplicate = %q", reply)
	}
	if reply := h.run(t, member, "!yumi persona create shy Not allowed"); !strings.Contains(reply, "already taken") {
		t.Fatalf("built-in collision = %q", reply)
	}
	if reply := h.run(t, member, "!yumi persona create lonely"); !strings.Contains(reply, "Usage") {
		t.Fatalf("missing description = %q", reply)
	}

	if reply := h.run(t, member, "!yumi persona list"); !strings.Contains(reply, "**pirate**: Talks like a pirate, arr") {
		t.Fatalf("list = %q", reply)
	}
	if reply := h.run(t, member, "!yumi modes"); !strings.Contains(reply, "**Custom:** pirate") {
		t.Fatalf("modes = %q", reply)
	}

	h.run(t, member, "!yumi_persona_activate pirate")
	if got := h.modes.Resolve("c1", "g1", "u1"); got != "pirate" {
		t.Fatalf("active = %q", got)
	}

	if reply := h.run(t, other, "!yumi persona edit pirate Sneaky"); !strings.Contains(reply, "can't change") {
		t.Fatalf("foreign edit = %q", reply)
	}
	if reply := h.run(t, admin, "!yumi persona edit pirate Talks like a polite pirate"); !strings.Contains(reply, "updated") {
		t.Fatalf("admin edit = %q", reply)
	}
	if reply := h.run(t, other, "!yumi persona delete pirate"); !strings.Contains(reply, "can't change") {
		t.Fatalf("foreign delete = %q", reply)
	}
	if reply := h.run(t, member, "!yumi persona delete pirate"); !strings.Contains(reply, "deleted") {
		t.Fatalf("delete = %q", reply)
	}
	if got := h.modes.Resolve("c1", "g1", "u1"); got != persona.Normal {
		t.Fatalf("deleted persona still active: %q", got)
	}
	if reply := h.run(t, member, "!yumi persona delete pirate"); !strings.Contains(reply, "no custom persona") {
		t.Fatalf("second delete = %q", reply)
	}
}

func TestChannelPersona_AdminOnly(t *testing.T) {
	h := newHarness(t)

	if reply := h.run(t, member, "!yumi channel_persona gamer"); !strings.Contains(reply, "Only admins") {
		t.Fatalf("member reply = %q", reply)
	}
	h.run(t, admin, "!yumi channel_persona gamer")
	if got := h.modes.Resolve("c1", "g1", "u1"); got != "gamer" {
		t.Fatalf("channel persona = %q", got)
	}
	if got := h.modes.Resolve("c2", "g1", "u1"); got != persona.Normal {
		t.Fatalf("other channel = %q", got)
	}
	if reply := h.run(t, admin, "!yumi_channel_persona_clear"); reply != "Channel persona cleared." {
		t.Fatalf("clear = %q", reply)
	}
	if reply := h.run(t, admin, "!yumi_channel_persona_clear"); !strings.Contains(reply, "no persona") {
		t.Fatalf("second clear = %q", reply)
	}
}

func TestLockdown(t *testing.T) {
	h := newHarness(t)

	if reply := h.run(t, member, "!yumi lockdown"); !strings.Contains(reply, "Only admins") {
		t.Fatalf("member lockdown = %q", reply)
	}
	h.run(t, admin, "!yumi lockdown")
	if !h.lockdown.locked["g1/c1"] {
		t.Fatal("channel not locked")
	}
	last := h.notifier.sent[len(h.notifier.sent)-1]
	if last.evt.Type != events.EvtChannelLockChanged || !last.evt.Bool("locked") {
		t.Fatalf("notification = %+v", last.evt)
	}

	if reply := h.run(t, admin, "!yumi unlock"); !strings.Contains(reply, "Unlocked") {
		t.Fatalf("unlock = %q", reply)
	}
	if reply := h.run(t, admin, "!yumi unlock"); !strings.Contains(reply, "wasn't locked") {
		t.Fatalf("second unlock = %q", reply)
	}
	dm := chat.Message{ChannelID: "dm", AuthorID: "boss", IsAdmin: true}
	if reply := h.run(t, dm, "!yumi lockdown"); !strings.Contains(reply, "only works in a server") {
		t.Fatalf("DM lockdown = %q", reply)
	}
}

func TestFactsAndForget(t *testing.T) {
	h := newHarness(t)

	if reply := h.run(t, member, "!yumi fact"); !strings.Contains(reply, "don't know anything") {
		t.Fatalf("empty facts = %q", reply)
	}
	h.memory.facts["u1"] = facts.Facts{"name": "Sam", "favorite_color": "blue"}
	want := "Here's what I remember about you:\n• Favorite color: blue\n• Name: Sam"
	if reply := h.run(t, member, "!yumi fact"); reply != want {
		t.Fatalf("facts = %q, want %q", reply, want)
	}

	h.run(t, member, "!yumi forget")
	if len(h.memory.facts["u1"]) != 0 || len(h.memory.forgotten) != 1 {
		t.Fatalf("memory after forget: facts=%v forgotten=%v", h.memory.facts, h.memory.forgotten)
	}
	last := h.notifier.sent[len(h.notifier.sent)-1]
	if last.channel != events.ChannelUser || last.evt.Type != events.EvtMemoryCleared || last.evt.UserID != "u1" {
		t.Fatalf("notification = %+v", last)
	}
}

func TestFact_Teach(t *testing.T) {
	h := newHarness(t)
	h.memory.facts["u1"] = facts.Facts{"name": "Sam"}

	reply := h.run(t, member, "!yumi fact Favorite_Color   deep Blue ")
	if reply != "Got it! I'll remember your favorite color: deep Blue" {
		t.Fatalf("reply = %q", reply)
	}
	want := facts.Facts{"name": "Sam", "favorite_color": "deep Blue"}
	if got := h.memory.facts["u1"]; len(got) != 2 || got["favorite_color"] != want["favorite_color"] || got["name"] != "Sam" {
		t.Fatalf("facts = %v, want %v", got, want)
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.sent))
	}
	last := h.notifier.sent[0]
	if last.channel != events.ChannelUser || last.evt.Type != events.EvtFactsUpdated || last.evt.UserID != "u1" {
		t.Fatalf("notification = %+v", last)
	}

	// Repeating the same value changes nothing and stays quiet.
	h.run(t, member, "!yumi fact favorite_color deep Blue")
	if len(h.notifier.sent) != 1 {
		t.Fatalf("unchanged fact notified: %d", len(h.notifier.sent))
	}

	if reply := h.run(t, member, "!yumi fact pet"); !strings.Contains(reply, "Usage") {
		t.Fatalf("missing value = %q", reply)
	}
	if reply := h.run(t, member, "!yumi facts pet cat"); !strings.Contains(reply, "Here's what I remember") {
		t.Fatalf("facts with args should only list, got %q", reply)
	}
}

func TestAnnounce(t *testing.T) {
	h := newHarness(t)

	if reply := h.run(t, member, "!yumi announce 2026-05-02 09:30 hi"); !strings.Contains(reply, "Only admins") {
		t.Fatalf("member announce = %q", reply)
	}
	reply := h.run(t, admin, "!yumi announce 2026-05-02 09:30 Movie night  starts soon!")
	if !strings.Contains(reply, "2026-05-02 09:30 UTC") {
		t.Fatalf("announce = %q", reply)
	}
	if len(h.announce.queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(h.announce.queued))
	}
	got := h.announce.queued[0]
	want := announcement{"c1", "boss", "Movie night  starts soon!", time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)}
	if got.channel != want.channel || got.author != want.author || got.message != want.message || !got.due.Equal(want.due) {
		t.Fatalf("queued = %+v, want %+v", got, want)
	}

	for text, wantReply := range map[string]string{
		"!yumi announce 2026-05-02 9h30 hi":  "Invalid date",
		"!yumi announce 2026-05-02 09:30":    "Usage",
		"!yumi announce 2026-04-30 09:30 hi": "already passed",
	} {
		if reply := h.run(t, admin, text); !strings.Contains(reply, wantReply) {
			t.Errorf("%q = %q, want %q", text, reply, wantReply)
		}
	}
	if len(h.announce.queued) != 1 {
		t.Fatalf("rejected announcements were queued: %d", len(h.announce.queued))
	}
}

func TestLevel(t *testing.T) {
	h := newHarness(t)
	if reply := h.run(t, member, "!yumi level"); reply != "You're level **3** with 45/300 XP." {
		t.Fatalf("level = %q", reply)
	}
}
