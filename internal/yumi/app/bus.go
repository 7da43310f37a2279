package app

import (
	"context"
	"fmt"

	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
)

// registerCommands installs the handlers for dashboard commands. The
// dashboard persists its changes before publishing, so these handlers bring
// the in-memory state in line and announce the result.
func (a *App) registerCommands() {
	d := a.dispatcher
	d.Handle(events.CmdActivatePersonaGlobal, a.onActivateGlobal)
	d.Handle(events.CmdSetServerPersona, a.onSetServerPersona)
	d.Handle(events.CmdLockChannel, a.onLockChannel)
	d.Handle(events.CmdMaintenanceMode, a.onMaintenance)
	d.Handle(events.CmdClearUserData, a.onClearUserData)
	d.Handle(events.CmdClearUserMemory, a.onClearUserMemory)
	d.Handle(events.CmdPersonaCreated, a.onPersonaChanged)
	d.Handle(events.CmdPersonaUpdated, a.onPersonaChanged)
	d.Handle(events.CmdPersonaDeleted, a.onPersonaDeleted)
}

func (a *App) onActivateGlobal(ctx context.Context, evt *envelope.Event) error {
	name := evt.String("persona")
	if !a.modes.Set(ctx, persona.GlobalScope, name) {
		return fmt.Errorf("%w: %q", persona.ErrUnknownPersona, name)
	}
	a.bus.Notify(ctx, events.ChannelBot, envelope.New(envelope.SourceBot, events.EvtPersonaActivated).With("persona", name))
	return nil
}

func (a *App) onSetServerPersona(ctx context.Context, evt *envelope.Event) error {
	name := evt.String("persona")
	if evt.GuildID == "" {
		return fmt.Errorf("%s without guild_id", evt.Type)
	}
	if !a.modes.Set(ctx, persona.ScopeFor(evt.GuildID, ""), name) {
		return fmt.Errorf("%w: %q", persona.ErrUnknownPersona, name)
	}
	out := envelope.New(envelope.SourceBot, events.EvtPersonaChanged)
	out.GuildID = evt.GuildID
	a.bus.Notify(ctx, events.ChannelServer, out.With("persona", name))
	return nil
}

func (a *App) onLockChannel(ctx context.Context, evt *envelope.Event) error {
	if evt.GuildID == "" || evt.ChannelID == "" {
		return fmt.Errorf("%s without guild_id or channel_id", evt.Type)
	}
	locked := evt.Bool("locked")
	a.lockdown.Apply(evt.GuildID, evt.ChannelID, locked)
	out := envelope.New(envelope.SourceBot, events.EvtChannelLockChanged)
	out.GuildID, out.ChannelID = evt.GuildID, evt.ChannelID
	a.bus.Notify(ctx, events.ChannelServer, out.With("locked", locked))
	return nil
}

func (a *App) onMaintenance(ctx context.Context, evt *envelope.Event) error {
	on := evt.Bool("enabled")
	a.maintenance.Store(on)
	if a.redis != nil {
		if err := a.redis.SetMaintenance(ctx, on); err != nil {
			a.logger.Warn("maintenance flag not stored", "err", err)
		}
	}
	a.logger.Info("maintenance mode changed", "enabled", on)
	a.bus.Notify(ctx, events.ChannelBot, envelope.New(envelope.SourceBot, events.EvtMaintenanceChanged).With("enabled", on))
	return nil
}

func (a *App) onClearUserData(ctx context.Context, evt *envelope.Event) error {
	if evt.UserID == "" {
		return fmt.Errorf("%s without user_id", evt.Type)
	}
	if err := a.state.ForgetFacts(ctx, evt.UserID); err != nil {
		return err
	}
	if err := a.store.DeleteProgress(ctx, evt.UserID); err != nil {
		return err
	}
	out := envelope.New(envelope.SourceBot, events.EvtDataCleared)
	out.UserID = evt.UserID
	a.bus.Notify(ctx, events.ChannelUser, out)
	return nil
}

func (a *App) onClearUserMemory(ctx context.Context, evt *envelope.Event) error {
	if evt.UserID == "" {
		return fmt.Errorf("%s without user_id", evt.Type)
	}
	n, err := a.state.ForgetHistory(ctx, evt.UserID)
	if err != nil {
		return err
	}
	out := envelope.New(envelope.SourceBot, events.EvtMemoryCleared)
	out.UserID = evt.UserID
	a.bus.Notify(ctx, events.ChannelUser, out.With("conversations", n))
	return nil
}

// Custom personas are read through the repository on every turn, so
// creation and edits need no local state change.
func (a *App) onPersonaChanged(_ context.Context, evt *envelope.Event) error {
	a.logger.Info("custom persona changed", "type", evt.Type, "name", evt.String("name"))
	return nil
}

func (a *App) onPersonaDeleted(ctx context.Context, evt *envelope.Event) error {
	name := evt.String("name")
	if name == "" {
		return fmt.Errorf("%s without name", evt.Type)
	}
	a.modes.Forget(ctx, name)
	return nil
}
