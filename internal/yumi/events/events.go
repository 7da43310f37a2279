// Package events synchronises the bot and the dashboard over Redis pub/sub.
//
// The dashboard publishes commands on ChannelCommands; the bot applies them
// and announces state changes on the bot, server and user channels. A
// status heartbeat is kept in plain keys with a TTL so the dashboard can
// tell whether the bot is alive.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yumisugoi/yumi/common/redact"
	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/internal/yumi/metrics"
)

// Channels.
const (
	ChannelCommands = "bot_commands"
	ChannelBot      = "bot_events"
	ChannelServer   = "server_events"
	ChannelUser     = "user_events"
)

// Inbound command types.
const (
	CmdActivatePersonaGlobal = "activate_persona_global"
	CmdSetServerPersona      = "set_server_persona"
	CmdLockChannel           = "lock_channel"
	CmdClearUserData         = "clear_user_data"
	CmdClearUserMemory       = "clear_user_memory"
	CmdMaintenanceMode       = "maintenance_mode"
	CmdPersonaCreated        = "persona_created"
	CmdPersonaUpdated        = "persona_updated"
	CmdPersonaDeleted        = "persona_deleted"
)

// Outbound event types.
const (
	EvtStatusUpdate       = "status_update"
	EvtPersonaActivated   = "persona_activated"
	EvtMaintenanceChanged = "maintenance_mode_changed"
	EvtCommandUsed        = "command_used"
	EvtPersonaChanged     = "persona_changed"
	EvtChannelLockChanged = "channel_lock_changed"
	EvtMemoryCleared      = "memory_cleared"
	EvtDataCleared        = "data_cleared"
	EvtFactsUpdated       = "facts_updated"
)

// Keys.
const (
	KeyStatus      = "bot:status"
	KeyGuilds      = "bot:guilds"
	KeyMaintenance = "bot_maintenance"

	statusTTL = 5 * time.Minute
)

// Notifier publishes events. Implementations log failures instead of
// returning them and must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, channel string, evt *envelope.Event)
}

// Noop is the Notifier used when no Redis is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, string, *envelope.Event) {}

// redisClient is the part of *redis.Client used here.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

var _ redisClient = (*redis.Client)(nil)

// Redis publishes and receives events through a Redis server.
type Redis struct {
	client  redisClient
	logger  *slog.Logger
	timeout time.Duration
}

// Dial connects to redisURL (redis://...) and checks the connection.
func Dial(ctx context.Context, redisURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("events: ping redis: %s", redact.Error(err, opts.Password))
	}
	return newRedis(client, logger), nil
}

func newRedis(client redisClient, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger, timeout: 3 * time.Second}
}

// Close closes the connection.
func (r *Redis) Close() error { return r.client.Close() }

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// Notify publishes evt on channel.
func (r *Redis) Notify(ctx context.Context, channel string, evt *envelope.Event) {
	payload, err := evt.Marshal()
	if err != nil {
		r.logger.Warn("event not published", "channel", channel, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		r.logger.Warn("event publish failed", "channel", channel, "type", evt.Type, "err", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(channel).Inc()
	r.logger.Debug("event published", "channel", channel, "type", evt.Type, "data", redact.Map(evt.Data))
}

// Maintenance reports whether maintenance mode is on.
func (r *Redis) Maintenance(ctx context.Context) (bool, error) {
	v, err := r.client.Get(ctx, KeyMaintenance).Result()
	if isNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("events: read maintenance flag: %w", err)
	}
	return v == "1" || v == "true", nil
}

// SetMaintenance stores the maintenance flag.
func (r *Redis) SetMaintenance(ctx context.Context, on bool) error {
	var err error
	if on {
		err = r.client.Set(ctx, KeyMaintenance, "1", 0).Err()
	} else {
		err = r.client.Del(ctx, KeyMaintenance).Err()
	}
	if err != nil {
		return fmt.Errorf("events: write maintenance flag: %w", err)
	}
	return nil
}
