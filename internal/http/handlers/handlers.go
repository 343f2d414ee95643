package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
	"github.com/tbourn/contest-notifier/internal/http/middleware"
	"github.com/tbourn/contest-notifier/internal/scheduler"
	"github.com/tbourn/contest-notifier/internal/services"
)

// AccountService registers principals and signs them in.
type AccountService interface {
	Register(ctx context.Context, in services.RegisterInput) (domain.Principal, error)
	SignIn(ctx context.Context, email, password string) (string, error)
}

// SubscriptionService edits principal subscriptions.
type SubscriptionService interface {
	Subscribe(ctx context.Context, email, contest string) error
	Unsubscribe(ctx context.Context, email, contest string) error
	SetSubscriptions(ctx context.Context, principalID string, contests []string) error
	Contests(ctx context.Context, principalID string) ([]string, error)
}

// Catalog lists the registered contests.
type Catalog interface {
	All() []contests.Contest
}

// ScheduleSource exposes the scheduler state.
type ScheduleSource interface {
	Snapshot() []scheduler.Entry
}

// Handlers groups the HTTP endpoints. Any dependency may be nil when the
// matching routes are not mounted.
type Handlers struct {
	accounts AccountService
	subs     SubscriptionService
	catalog  Catalog
	schedule ScheduleSource
}

// New binds the handlers to their services.
func New(accounts AccountService, subs SubscriptionService, catalog Catalog, schedule ScheduleSource) *Handlers {
	return &Handlers{accounts: accounts, subs: subs, catalog: catalog, schedule: schedule}
}

// principalID returns the ID stored by middleware.RequireAuth.
func principalID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
