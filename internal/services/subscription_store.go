// Package services – SubscriptionStore
//
// SubscriptionStore is the single authority over which principal is
// subscribed to which contest. It keeps the whole mapping in memory, persists
// every change through a PrincipalRepo, and hands out copies so callers never
// see a record mid-update.
//
// Concurrency:
//   - Mutations of one principal are serialized by a per-principal lock; the
//     read-modify-persist-swap sequence runs entirely under it, so concurrent
//     Subscribe and SetSubscriptions calls cannot lose each other's writes.
//   - Mutations of different principals run concurrently.
//   - Reads take a shared lock only for the map lookup and copy.
//   - A failed repository write leaves the in-memory view unchanged.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/contest-notifier/internal/domain"
)

// PrincipalRepo is the persistence contract used by SubscriptionStore.
// repo.GormRepository and repo.CSVRepository implement it.
type PrincipalRepo interface {
	// LoadPrincipals returns every stored principal with its contest set.
	LoadPrincipals(ctx context.Context) ([]domain.Principal, error)
	// SavePrincipal inserts or fully replaces one principal record.
	SavePrincipal(ctx context.Context, p domain.Principal) error
}

// ContestCatalog reports whether a contest name is known.
type ContestCatalog interface {
	Has(name string) bool
}

// SubscriptionStore provides concurrency-safe subscription CRUD.
type SubscriptionStore struct {
	repo     PrincipalRepo
	contests ContestCatalog
	now      func() time.Time

	mu         sync.RWMutex
	principals map[string]domain.Principal
	locks      keyedMutex
}

// NewSubscriptionStore builds an empty store. Call Load to hydrate it from
// the repository before serving traffic.
func NewSubscriptionStore(r PrincipalRepo, contests ContestCatalog) *SubscriptionStore {
	return &SubscriptionStore{
		repo:       r,
		contests:   contests,
		now:        func() time.Time { return time.Now().UTC() },
		principals: make(map[string]domain.Principal),
	}
}

// Load replaces the in-memory view with the repository contents. Contest
// names are de-duplicated so the one-row-per-pair invariant holds even for a
// hand-edited file.
func (s *SubscriptionStore) Load(ctx context.Context) error {
	ps, err := s.repo.LoadPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
	next := make(map[string]domain.Principal, len(ps))
	for _, p := range ps {
		if p.ID == "" {
			p.ID = domain.PrincipalID(p.Email)
		}
		if p.ID == "" {
			continue
		}
		p.Contests = domain.UniqueContests(p.Contests)
		next[p.ID] = p
	}
	s.mu.Lock()
	s.principals = next
	s.mu.Unlock()
	return nil
}

// Subscribe adds contest to the principal identified by email. An unknown
// email becomes an email-only principal (no credential) so anonymous
// subscribers can still receive reminders.
func (s *SubscriptionStore) Subscribe(ctx context.Context, email, contest string) error {
	id := domain.PrincipalID(email)
	contest = strings.TrimSpace(contest)
	if id == "" || contest == "" {
		return fmt.Errorf("%w: email and contest are required", ErrInvalidInput)
	}
	if !s.contests.Has(contest) {
		return fmt.Errorf("%w: %s", ErrUnknownContest, contest)
	}
	return s.mutate(ctx, id, func(p *domain.Principal, exists bool) (bool, error) {
		if !exists {
			p.Email = strings.TrimSpace(email)
			p.CreatedAt = s.now()
		}
		if p.Subscribed(contest) {
			return false, ErrAlreadySubscribed
		}
		p.Contests = domain.UniqueContests(append(p.Contests, contest))
		return true, nil
	})
}

// Unsubscribe removes contest from the principal. It succeeds whether or not
// the pair existed.
func (s *SubscriptionStore) Unsubscribe(ctx context.Context, email, contest string) error {
	id := domain.PrincipalID(email)
	contest = strings.TrimSpace(contest)
	if id == "" || contest == "" {
		return fmt.Errorf("%w: email and contest are required", ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(p *domain.Principal, exists bool) (bool, error) {
		if !exists || !p.Subscribed(contest) {
			return false, nil
		}
		kept := p.Contests[:0]
		for _, c := range p.Contests {
			if c != contest {
				kept = append(kept, c)
			}
		}
		p.Contests = kept
		return true, nil
	})
}

// SetSubscriptions replaces the principal's contest set. The principal must
// exist, then every name is validated before anything is written; on error
// the prior set is intact.
func (s *SubscriptionStore) SetSubscriptions(ctx context.Context, principalID string, contests []string) error {
	id := domain.PrincipalID(principalID)
	if id == "" {
		return fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}
	names := domain.UniqueContests(contests)
	return s.mutate(ctx, id, func(p *domain.Principal, exists bool) (bool, error) {
		if !exists {
			return false, ErrPrincipalNotFound
		}
		if err := s.validateContests(names); err != nil {
			return false, err
		}
		p.Contests = names
		return true, nil
	})
}

// Register creates a credentialed principal. An existing email-only
// principal is claimed: its contact fields and credential are set and its
// contests are merged with the requested ones.
func (s *SubscriptionStore) Register(ctx context.Context, in domain.Principal) error {
	id := domain.PrincipalID(in.Email)
	if id == "" || in.PasswordHash == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	names := domain.UniqueContests(in.Contests)
	if err := s.validateContests(names); err != nil {
		return err
	}
	return s.mutate(ctx, id, func(p *domain.Principal, exists bool) (bool, error) {
		if exists && p.HasCredential() {
			return false, ErrPrincipalExists
		}
		if !exists {
			p.CreatedAt = s.now()
		}
		p.Name = strings.TrimSpace(in.Name)
		p.Email = strings.TrimSpace(in.Email)
		p.Phone = strings.TrimSpace(in.Phone)
		p.PasswordHash = in.PasswordHash
		p.Contests = domain.UniqueContests(append(p.Contests, names...))
		return true, nil
	})
}

// Principal returns a copy of the principal record.
func (s *SubscriptionStore) Principal(ctx context.Context, principalID string) (domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Principal{}, err
	}
	s.mu.RLock()
	p, ok := s.principals[domain.PrincipalID(principalID)]
	s.mu.RUnlock()
	if !ok {
		return domain.Principal{}, ErrPrincipalNotFound
	}
	return p.Clone(), nil
}

// Contests returns the principal's contest names, sorted.
func (s *SubscriptionStore) Contests(ctx context.Context, principalID string) ([]string, error) {
	p, err := s.Principal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return p.Contests, nil
}

// SubscribersOf returns a snapshot of every principal subscribed to contest,
// ordered by ID. The scheduler calls it once per firing.
func (s *SubscriptionStore) SubscribersOf(ctx context.Context, contest string) ([]domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Principal, 0)
	for _, p := range s.principals {
		if p.Subscribed(contest) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of known principals.
func (s *SubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.principals)
}

func (s *SubscriptionStore) validateContests(names []string) error {
	for _, n := range names {
		if !s.contests.Has(n) {
			return fmt.Errorf("%w: %s", ErrUnknownContest, n)
		}
	}
	return nil
}

// mutate runs fn on a private copy of the principal while holding the
// principal's lock, persists the result, and only then publishes it.
func (s *SubscriptionStore) mutate(ctx context.Context, id string, fn func(p *domain.Principal, exists bool) (changed bool, err error)) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	cur, exists := s.principals[id]
	s.mu.RUnlock()

	next := cur.Clone()
	if !exists {
		next = domain.Principal{ID: id, Contests: []string{}}
	}
	changed, err := fn(&next, exists)
	if err != nil || !changed {
		return err
	}
	next.UpdatedAt = s.now()

	if err := s.repo.SavePrincipal(ctx, next); err != nil {
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}

	s.mu.Lock()
	s.principals[id] = next
	s.mu.Unlock()
	return nil
}
