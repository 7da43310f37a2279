package events

import (
	"context"
	"log/slog"

	"github.com/yumisugoi/yumi/common/spec/envelope"
)

// Local delivers commands to a Dispatcher in the same process. It stands in
// for Redis when the dashboard and the bot share one binary. Events on other
// channels have no listener and are dropped.
type Local struct {
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Notify dispatches evt when channel is ChannelCommands.
func (l Local) Notify(ctx context.Context, channel string, evt *envelope.Event) {
	if channel != ChannelCommands || l.Dispatcher == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	payload, err := evt.Marshal()
	if err != nil {
		logger.Warn("command not dispatched", "type", evt.Type, "err", err)
		return
	}
	if err := l.Dispatcher.Dispatch(ctx, payload); err != nil {
		logger.Warn("command failed", "type", evt.Type, "err", err)
		return
	}
	logger.Debug("command dispatched locally", "type", evt.Type)
}
