package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/yumisugoi/yumi/common/spec/envelope"
)

// HandlerFunc applies one inbound command.
type HandlerFunc func(ctx context.Context, evt *envelope.Event) error

// Dispatcher routes inbound commands by type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for typ, replacing any earlier handler.
func (d *Dispatcher) Handle(typ string, fn HandlerFunc) {
	d.mu.Lock()
	d.handlers[typ] = fn
	d.mu.Unlock()
}

// ErrUnknownCommand is returned by Dispatch for unregistered types.
var ErrUnknownCommand = errors.New("events: unknown command type")

// Dispatch decodes payload and runs the matching handler.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	evt, err := envelope.Parse(payload)
	if err != nil {
		return err
	}
	d.mu.RLock()
	fn, ok := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, evt.Type)
	}
	if err := fn(ctx, evt); err != nil {
		return fmt.Errorf("events: %s: %w", evt.Type, err)
	}
	return nil
}

// Subscribe receives commands on ChannelCommands and dispatches them until
// ctx is done. Handler errors are logged and do not stop the loop.
func (r *Redis) Subscribe(ctx context.Context, d *Dispatcher) error {
	sub := r.client.Subscribe(ctx, ChannelCommands)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", ChannelCommands, err)
	}
	r.logger.Info("listening for dashboard commands", "channel", ChannelCommands)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("events: subscription closed")
			}
			if err := d.Dispatch(ctx, []byte(msg.Payload)); err != nil {
				r.logger.Warn("dashboard command not applied", "err", err)
			}
		}
	}
}

func isNil(err error) bool { return errors.Is(err, redis.Nil) }
