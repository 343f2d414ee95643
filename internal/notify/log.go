package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
)

// LogChannel records reminders instead of delivering them. It backs
// NOTIFY_DRY_RUN and local development.
type LogChannel struct {
	Kind   string
	Logger zerolog.Logger
}

// Send implements Channel.
func (l LogChannel) Send(_ context.Context, p domain.Principal, c contests.Contest, occurrence time.Time) error {
	l.Logger.Info().
		Str("channel", l.Kind).
		Str("principal", p.ID).
		Str("contest", c.Name).
		Time("occurrence", occurrence).
		Msg("notification (dry run)")
	return nil
}
