// Package matrix connects the bot to a Matrix homeserver through mautrix.
// Each joined room is treated as a guild with a single channel.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/yumisugoi/yumi/common/retry"
	"github.com/yumisugoi/yumi/internal/yumi/chat"
)

const (
	backoffMin    = 2 * time.Second
	backoffMax    = 5 * time.Minute
	typingTimeout = 10 * time.Second
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined on start. Invites to other rooms are not accepted.
	Rooms    []string
	AdminIDs []string
	// DB persists the sync token across restarts. When nil an in-memory
	// store is used and the room backlog replays on every start; messages
	// older than the process are dropped either way.
	DB     *sql.DB
	Logger *slog.Logger
}

// client is the part of *mautrix.Client used for outbound calls.
type client interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

var _ client = (*mautrix.Client)(nil)

// Transport is a chat.Transport backed by a Matrix account.
type Transport struct {
	mx      *mautrix.Client
	api     client
	cfg     Config
	logger  *slog.Logger
	started time.Time
	rooms   atomic.Int64
}

var _ chat.Transport = (*Transport)(nil)

// New creates the client. Nothing is synced until Run.
func New(cfg Config) (*Transport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if cfg.DB != nil {
		mx.Store = NewSyncStore(cfg.DB)
	} else {
		logger.Warn("matrix sync token not persisted; room history replays on restart")
	}
	return &Transport{mx: mx, api: mx, cfg: cfg, logger: logger}, nil
}

// Run joins the configured rooms and syncs until ctx is done, reconnecting
// with exponential backoff when the homeserver drops the connection.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	t.started = time.Now()
	syncer, ok := t.mx.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix: syncer does not accept event handlers")
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		msg, ok := convert(evt, id.UserID(t.cfg.UserID), t.started)
		if !ok {
			return
		}
		msg.IsAdmin = slices.Contains(t.cfg.AdminIDs, msg.AuthorID)
		// The syncer calls handlers inline; a slow turn must not stall sync.
		go h(ctx, msg)
	})

	for _, room := range t.cfg.Rooms {
		if err := t.join(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}
	t.refreshRooms(ctx)

	for attempt := 1; ; attempt++ {
		err := t.mx.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		wait := min(retry.Exponential(backoffMin, attempt), backoffMax)
		t.logger.Error("matrix sync stopped; reconnecting", "err", err, "backoff", wait)
		if retry.Sleep(ctx, wait) != nil {
			return nil
		}
	}
}

// Send posts text to the room channelID.
func (t *Transport) Send(ctx context.Context, channelID, text string) error {
	if _, err := t.api.SendText(ctx, id.RoomID(channelID), text); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// Typing shows the typing indicator for a few seconds.
func (t *Transport) Typing(ctx context.Context, channelID string) error {
	if _, err := t.api.UserTyping(ctx, id.RoomID(channelID), true, typingTimeout); err != nil {
		return fmt.Errorf("matrix: typing: %w", err)
	}
	return nil
}

// GuildCount is the number of joined rooms seen at the last refresh.
func (t *Transport) GuildCount() int { return int(t.rooms.Load()) }

func (t *Transport) join(ctx context.Context, roomID id.RoomID) error {
	if _, err := t.mx.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			t.logger.Warn("matrix join refused, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

func (t *Transport) refreshRooms(ctx context.Context) {
	resp, err := t.mx.JoinedRooms(ctx)
	if err != nil {
		t.logger.Warn("matrix joined rooms lookup failed", "err", err)
		t.rooms.Store(int64(len(t.cfg.Rooms)))
		return
	}
	t.rooms.Store(int64(len(resp.JoinedRooms)))
}

// convert maps a room message to a chat.Message. Own messages, non-text
// messages and anything sent before since are dropped.
func convert(evt *event.Event, self id.UserID, since time.Time) (chat.Message, bool) {
	if evt == nil || evt.Sender == self {
		return chat.Message{}, false
	}
	if !since.IsZero() && time.UnixMilli(evt.Timestamp).Before(since) {
		return chat.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return chat.Message{}, false
	}
	room := evt.RoomID.String()
	return chat.Message{
		ID:         evt.ID.String(),
		ChannelID:  room,
		GuildID:    room,
		AuthorID:   evt.Sender.String(),
		AuthorName: evt.Sender.Localpart(),
		Content:    content.Body,
	}, true
}
