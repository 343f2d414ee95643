// Package notify delivers one contest reminder to one principal.
//
// A Channel is the transport boundary: it formats the message for its medium
// and hands it to an external provider (SMTP, Twilio) or a logger. Channels
// never retry; the scheduler owns retry policy.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
	"github.com/tbourn/contest-notifier/internal/recurrence"
)

var (
	// ErrMissingContact is returned when the principal lacks the contact field
	// the channel needs (email for EmailChannel, phone for VoiceChannel).
	// Retrying cannot fix it.
	ErrMissingContact = errors.New("missing contact field")

	// ErrTransport wraps provider failures.
	ErrTransport = errors.New("notification transport failure")

	// ErrNoChannel is returned by Router.For for an unregistered kind.
	ErrNoChannel = errors.New("no channel registered")
)

// Channel sends a single reminder.
type Channel interface {
	Send(ctx context.Context, p domain.Principal, c contests.Contest, occurrence time.Time) error
}

// Router maps a contest's channel kind to its Channel.
type Router map[string]Channel

// For returns the channel for kind.
func (r Router) For(kind string) (Channel, error) {
	ch, ok := r[strings.ToLower(kind)]
	if !ok || ch == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoChannel, kind)
	}
	return ch, nil
}

// Subject is the reminder subject line.
func Subject(c contests.Contest) string {
	return "Reminder for " + c.Name
}

// Body renders the plain-text reminder. unsubscribeURL may be empty.
func Body(p domain.Principal, c contests.Contest, occurrence time.Time, unsubscribeURL string) string {
	var b strings.Builder
	name := p.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "%s starts at %s.\n", c.Name, occurrence.In(recurrence.IST).Format("Mon, 02 Jan 2006 15:04 MST"))
	if c.URL != "" {
		fmt.Fprintf(&b, "Join here: %s\n", c.URL)
	}
	if unsubscribeURL != "" {
		fmt.Fprintf(&b, "\nTo stop these reminders, visit %s\n", unsubscribeURL)
	}
	return b.String()
}

// UnsubscribeURL builds the one-click unsubscribe link served by
// GET /unsubscribe. It returns "" when base is empty or unparsable.
func UnsubscribeURL(base, email, contest string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/unsubscribe")
	if err != nil {
		return ""
	}
	q := url.Values{}
	q.Set("email", email)
	q.Set("contestName", contest)
	u.RawQuery = q.Encode()
	return u.String()
}
