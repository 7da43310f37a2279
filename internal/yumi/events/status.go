package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yumisugoi/yumi/common/spec/envelope"
)

// Status is the heartbeat stored under KeyStatus.
type Status struct {
	Connected     bool      `json:"connected"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	LastUpdate    time.Time `json:"last_update"`
	Guilds        int       `json:"guilds"`
	Maintenance   bool      `json:"maintenance"`
}

// NewStatus fills the uptime fields from start and now.
func NewStatus(connected bool, start, now time.Time, guilds int) Status {
	up := now.Sub(start).Truncate(time.Second)
	return Status{
		Connected:     connected,
		Uptime:        up.String(),
		UptimeSeconds: int64(up / time.Second),
		StartTime:     start.UTC(),
		LastUpdate:    now.UTC(),
		Guilds:        guilds,
	}
}

// PublishStatus writes the heartbeat keys and announces a status_update.
func (r *Redis) PublishStatus(ctx context.Context, st Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("events: encode status: %w", err)
	}
	if err := r.client.SetEx(ctx, KeyStatus, payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("events: write status: %w", err)
	}
	if err := r.client.SetEx(ctx, KeyGuilds, st.Guilds, statusTTL).Err(); err != nil {
		return fmt.Errorf("events: write guild count: %w", err)
	}
	r.Notify(ctx, ChannelBot, envelope.New(envelope.SourceBot, EvtStatusUpdate).
		With("connected", st.Connected).
		With("uptime_seconds", st.UptimeSeconds).
		With("guilds", st.Guilds))
	return nil
}

// Status reads the last heartbeat. found is false when the bot has not
// reported within the TTL.
func (r *Redis) Status(ctx context.Context) (st Status, found bool, err error) {
	raw, err := r.client.Get(ctx, KeyStatus).Bytes()
	if err != nil {
		if isNil(err) {
			return Status{}, false, nil
		}
		return Status{}, false, fmt.Errorf("events: read status: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, false, fmt.Errorf("events: decode status: %w", err)
	}
	return st, true, nil
}

// Heartbeat calls PublishStatus with snapshot() every interval until ctx is
// done. The first beat is sent immediately.
func (r *Redis) Heartbeat(ctx context.Context, interval time.Duration, snapshot func() Status) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := r.PublishStatus(ctx, snapshot()); err != nil {
			r.logger.Warn("status heartbeat failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
