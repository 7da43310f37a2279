package app

import (
	"context"
	"time"
)

// AnnouncementHeader prefixes every scheduled announcement.
const AnnouncementHeader = "📢 **Announcement**\n"

// runAnnouncements posts due announcements every interval until ctx is done.
func (a *App) runAnnouncements(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.postAnnouncements(ctx, now)
		}
	}
}

// postAnnouncements sends every announcement due at now and removes it.
// Undeliverable announcements are dropped too.
func (a *App) postAnnouncements(ctx context.Context, now time.Time) {
	due, err := a.store.DueAnnouncements(ctx, now)
	if err != nil {
		a.logger.Warn("announcements not read", "err", err)
		return
	}
	for _, ann := range due {
		log := a.logger.With("announcement", ann.ID, "channel", ann.ChannelID)
		if err := a.transport.Send(ctx, ann.ChannelID, AnnouncementHeader+ann.Message); err != nil {
			log.Warn("announcement not delivered", "err", err)
		}
		if err := a.store.DeleteAnnouncement(ctx, ann.ID); err != nil {
			log.Error("announcement not removed", "err", err)
		}
	}
}
