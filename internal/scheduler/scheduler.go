// Package scheduler fires contest reminders.
//
// Each registered contest gets one goroutine that cycles through
//
//	ARMED  -> timer set for the next fire time (occurrence minus lead time)
//	FIRING -> subscribers fetched and notified
//	ARMED  -> next occurrence computed from the one just handled
//
// until Stop is called. Contests never wait on each other, and a single
// contest never overlaps with itself: the next timer is set only after the
// previous batch has finished.
//
// Policies:
//   - Cold start: the first occurrence is rule.Next(now). If its lead window
//     is already open (fire time passed, occurrence still ahead) it fires
//     immediately and is not counted as missed.
//   - Late wake-up: a firing that starts more than MissTolerance after its
//     fire time is logged and counted as missed, then dispatched anyway.
//   - Slept through: if the next occurrence is already in the past when
//     re-arming, the schedule jumps to rule.Next(now).
//   - Failures: repository and per-subscriber errors are logged and counted;
//     they never stop the contest from re-arming.
//   - Shutdown: timers stop immediately; an in-flight batch runs to completion
//     on a context detached from cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
	"github.com/tbourn/contest-notifier/internal/notify"
	"github.com/tbourn/contest-notifier/internal/observability"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// State is the lifecycle state of one contest's cycle.
type State string

const (
	StateIdle    State = "idle"
	StateArmed   State = "armed"
	StateFiring  State = "firing"
	StateStopped State = "stopped"
)

// Catalog supplies the contests to schedule. *contests.Registry implements it.
type Catalog interface {
	All() []contests.Contest
}

// Subscribers returns a fresh subscriber snapshot per firing.
// *services.SubscriptionStore implements it.
type Subscribers interface {
	SubscribersOf(ctx context.Context, contest string) ([]domain.Principal, error)
}

// Channels resolves a contest's channel kind. notify.Router implements it.
type Channels interface {
	For(kind string) (notify.Channel, error)
}

// Entry is the observable state of one contest. LeadTime uses the same
// duration text as the catalog; LastFired is nil until the first firing.
type Entry struct {
	Contest       string     `json:"contest"`
	Rule          string     `json:"rule"`
	Channel       string     `json:"channel"`
	LeadTime      string     `json:"lead_time" example:"2h0m0s"`
	State         State      `json:"state"`
	Occurrence    time.Time  `json:"next_occurrence"`
	FireAt        time.Time  `json:"fire_at"`
	LastFired     *time.Time `json:"last_fired,omitempty"`
	LastAttempted int        `json:"last_attempted"`
	LastFailed    int        `json:"last_failed"`
}

// FireResult reports the outcome of one firing.
type FireResult struct {
	Contest    string
	Occurrence time.Time
	FireAt     time.Time
	Attempted  int
	Failed     int
	Late       bool
	// Err is set when the batch could not be dispatched at all.
	Err error
}

// Scheduler owns the per-contest timers.
type Scheduler struct {
	contests []contests.Contest
	subs     Subscribers
	channels Channels
	opts     Options
	limiter  *rate.Limiter
	tracer   trace.Tracer
	log      zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	results chan FireResult
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// New builds a scheduler for every contest in catalog.
func New(catalog Catalog, subs Subscribers, channels Channels, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	o.normalize()

	limit := rate.Inf
	if o.RatePerSecond > 0 {
		limit = rate.Limit(o.RatePerSecond)
	}

	all := catalog.All()
	s := &Scheduler{
		contests: all,
		subs:     subs,
		channels: channels,
		opts:     o,
		limiter:  rate.NewLimiter(limit, o.Concurrency),
		tracer:   observability.Tracer("scheduler"),
		log:      o.Logger.With().Str("component", "scheduler").Logger(),
		entries:  make(map[string]*Entry, len(all)),
		results:  make(chan FireResult, o.ResultBuffer),
		done:     make(chan struct{}),
	}
	for _, c := range s.contests {
		s.entries[c.Name] = &Entry{
			Contest:  c.Name,
			Rule:     c.Rule.String(),
			Channel:  c.Channel,
			LeadTime: c.LeadTime.String(),
			State:    StateIdle,
		}
	}
	return s
}

// Results delivers one FireResult per firing. Results are dropped when the
// buffer is full; the channel is closed once Stop has drained every cycle.
func (s *Scheduler) Results() <-chan FireResult { return s.results }

// Start arms every contest. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, c := range s.contests {
		s.wg.Add(1)
		go s.run(ctx, c)
	}
	go func() {
		s.wg.Wait()
		close(s.results)
		close(s.done)
	}()
	s.log.Info().Int("contests", len(s.contests)).Msg("scheduler started")
	return nil
}

// Stop cancels all timers and waits for in-flight batches, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Snapshot returns the current entries sorted by contest name.
func (s *Scheduler) Snapshot() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Contest < out[j].Contest })
	return out
}

func (s *Scheduler) now() time.Time { return s.opts.Clock() }

func (s *Scheduler) run(ctx context.Context, c contests.Contest) {
	defer s.wg.Done()
	defer s.setState(c.Name, StateStopped)

	lg := s.log.With().Str("contest", c.Name).Logger()
	occ, fireAt := s.firstArm(c, s.now())

	for {
		if ctx.Err() != nil {
			return
		}
		if occ.IsZero() {
			lg.Error().Str("rule", c.Rule.String()).Msg("rule produced no occurrence; contest disabled")
			return
		}
		s.setArmed(c.Name, occ, fireAt)
		lg.Debug().Time("occurrence", occ).Time("fire_at", fireAt).Msg("armed")

		timer := time.NewTimer(max(fireAt.Sub(s.now()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		res := s.fire(context.WithoutCancel(ctx), c, occ, fireAt)
		s.publish(res)
		occ, fireAt = s.rearm(c, occ, s.now())
	}
}

// firstArm picks the occurrence to arm at startup.
func (s *Scheduler) firstArm(c contests.Contest, now time.Time) (occ, fireAt time.Time) {
	occ = c.Rule.Next(now)
	fireAt = c.FireTime(occ)
	if fireAt.Before(now) {
		s.log.Info().Str("contest", c.Name).Time("occurrence", occ).
			Msg("lead window already open at startup; firing now")
		fireAt = now
	}
	return occ, fireAt
}

// rearm computes the occurrence following prev. When the process slept past
// it entirely, the schedule resumes from now.
func (s *Scheduler) rearm(c contests.Contest, prev, now time.Time) (occ, fireAt time.Time) {
	occ = c.Rule.Next(prev)
	if !occ.IsZero() && !occ.After(now) {
		skipped := occ
		occ = c.Rule.Next(now)
		s.log.Warn().Str("contest", c.Name).Time("skipped", skipped).Time("occurrence", occ).
			Msg("occurrence already passed; skipping ahead")
	}
	return occ, c.FireTime(occ)
}

// fire runs one batch. It never returns early on a per-subscriber error.
func (s *Scheduler) fire(ctx context.Context, c contests.Contest, occ, fireAt time.Time) FireResult {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "scheduler.fire", trace.WithAttributes(
		observability.AttrContest.String(c.Name),
		observability.AttrChannel.String(c.Channel),
		observability.AttrOccurrence.String(occ.Format(time.RFC3339)),
	))
	defer span.End()

	s.setState(c.Name, StateFiring)
	lg := s.log.With().Str("contest", c.Name).Time("occurrence", occ).Logger()
	res := FireResult{Contest: c.Name, Occurrence: occ, FireAt: fireAt}

	if late := start.Sub(fireAt); late > s.opts.MissTolerance {
		res.Late = true
		missedTotal.WithLabelValues(c.Name).Inc()
		lg.Warn().Dur("late_by", late).Msg("missed fire time; dispatching anyway")
	}

	subs, err := s.subs.SubscribersOf(ctx, c.Name)
	if err != nil {
		res.Err = fmt.Errorf("load subscribers: %w", err)
		firingsTotal.WithLabelValues(c.Name, "repository_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscribers")
		lg.Error().Err(err).Msg("cannot load subscribers; will retry next occurrence")
		return res
	}
	res.Attempted = len(subs)
	span.SetAttributes(observability.AttrRecipients.Int(len(subs)))

	ch, err := s.channels.For(c.Channel)
	if err != nil {
		res.Err = err
		res.Failed = len(subs)
		firingsTotal.WithLabelValues(c.Name, "channel_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "channel")
		lg.Error().Err(err).Str("channel", c.Channel).Msg("no channel for contest")
		return res
	}

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, p := range subs {
		g.Go(func() error {
			if err := s.deliver(ctx, ch, p, c, occ); err != nil {
				failed.Add(1)
				notificationsTotal.WithLabelValues(c.Name, c.Channel, "error").Inc()
				lg.Warn().Err(err).Str("principal", p.ID).Msg("notification failed")
				return nil
			}
			notificationsTotal.WithLabelValues(c.Name, c.Channel, "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	res.Failed = int(failed.Load())
	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
		span.SetStatus(codes.Error, "partial failure")
	}
	firingsTotal.WithLabelValues(c.Name, outcome).Inc()
	dispatchSeconds.WithLabelValues(c.Name).Observe(s.now().Sub(start).Seconds())
	lg.Info().Int("attempted", res.Attempted).Int("failed", res.Failed).Msg("fired")
	return res
}

// deliver sends to one subscriber with rate limiting and bounded retries.
func (s *Scheduler) deliver(ctx context.Context, ch notify.Channel, p domain.Principal, c contests.Contest, occ time.Time) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryInitial
	eb.MaxInterval = s.opts.RetryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := ch.Send(ctx, p, c, occ)
		if errors.Is(err, notify.ErrMissingContact) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(s.opts.RetryAttempts))
	return err
}

func (s *Scheduler) publish(res FireResult) {
	s.mu.Lock()
	if e, ok := s.entries[res.Contest]; ok {
		fired := res.Occurrence
		e.LastFired = &fired
		e.LastAttempted = res.Attempted
		e.LastFailed = res.Failed
	}
	s.mu.Unlock()

	select {
	case s.results <- res:
	default:
		s.log.Debug().Str("contest", res.Contest).Msg("result buffer full; dropping")
	}
}

func (s *Scheduler) setArmed(name string, occ, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.State = StateArmed
		e.Occurrence = occ
		e.FireAt = fireAt
	}
}

func (s *Scheduler) setState(name string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.State = st
	}
}
