// Command server runs the contest notifier: the HTTP API for accounts and
// subscriptions, and the scheduler that fires contest reminders.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/contest-notifier/internal/auth"
	"github.com/tbourn/contest-notifier/internal/config"
	"github.com/tbourn/contest-notifier/internal/contests"
	httpapi "github.com/tbourn/contest-notifier/internal/http"
	"github.com/tbourn/contest-notifier/internal/notify"
	"github.com/tbourn/contest-notifier/internal/observability"
	"github.com/tbourn/contest-notifier/internal/repo"
	"github.com/tbourn/contest-notifier/internal/scheduler"
	"github.com/tbourn/contest-notifier/internal/services"
	"github.com/tbourn/contest-notifier/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	// Optional .env for local runs; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(version, "dev"))
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	catalog, err := contests.Load(cfg.ContestsFile)
	if err != nil {
		return fmt.Errorf("contests: %w", err)
	}

	principals, closeRepo, err := openRepository(cfg.Storage)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer closeRepo()

	store := services.NewSubscriptionStore(principals, catalog)
	if err := store.Load(ctx); err != nil {
		return err
	}
	log.Info().
		Str("driver", cfg.Storage.Driver).
		Int("principals", store.Len()).
		Strs("contests", catalog.Names()).
		Msg("subscriptions loaded")

	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	accounts := services.NewAccountService(store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), issuer)

	channels, err := buildChannels(cfg.Notify, log.Logger)
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	sched := scheduler.New(catalog, store, channels,
		scheduler.WithLogger(log.Logger),
		scheduler.WithMissTolerance(cfg.Scheduler.MissTolerance),
		scheduler.WithConcurrency(cfg.Scheduler.Concurrency),
		scheduler.WithRate(cfg.Scheduler.RatePerSecond),
		scheduler.WithRetry(uint(cfg.Scheduler.RetryAttempts), 0, 0),
	)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Accounts:      accounts,
		Subscriptions: store,
		Catalog:       catalog,
		Schedule:      sched,
		Tokens:        issuer,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	// stopped closes once shutdown gives up waiting on the scheduler, so the
	// results reader cannot outlive SHUTDOWN_GRACE.
	stopped := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("api_base", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		drainResults(sched.Results(), stopped, logResult)
		return nil
	})
	g.Go(func() error {
		defer close(stopped)
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Scheduler.ShutdownGrace)
		defer cancel()

		httpErr := srv.Shutdown(sctx)
		schedErr := sched.Stop(sctx)
		return errors.Join(httpErr, schedErr)
	})
	return g.Wait()
}

// drainResults hands every result to fn until results is closed. Once
// stopped is closed it takes only what is already buffered and returns, even
// if a stuck firing keeps results open.
func drainResults(results <-chan scheduler.FireResult, stopped <-chan struct{}, fn func(scheduler.FireResult)) {
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			fn(res)
		case <-stopped:
			for {
				select {
				case res, ok := <-results:
					if !ok {
						return
					}
					fn(res)
				default:
					return
				}
			}
		}
	}
}

// openRepository returns the configured PrincipalRepo and a release func.
func openRepository(cfg config.StorageConfig) (services.PrincipalRepo, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if err := repo.AutoMigrate(db); err != nil {
			closeDB()
			return nil, nil, err
		}
		return repo.NewGormRepository(db), closeDB, nil
	default:
		r, err := repo.NewCSVRepository(cfg.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	}
}

// buildChannels wires the email and voice channels, or log-only stand-ins
// when dry run is enabled.
func buildChannels(cfg config.NotifyConfig, logger zerolog.Logger) (notify.Router, error) {
	if cfg.DryRun {
		return notify.Router{
			contests.ChannelEmail: notify.LogChannel{Kind: contests.ChannelEmail, Logger: logger},
			contests.ChannelVoice: notify.LogChannel{Kind: contests.ChannelVoice, Logger: logger},
		}, nil
	}

	email, err := notify.NewEmailChannel(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.Username,
	}, cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	voice, err := notify.NewVoiceChannel(notify.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.PhoneNumber,
		VoiceURL:   cfg.Twilio.VoiceURL,
	})
	if err != nil {
		return nil, err
	}
	return notify.Router{
		contests.ChannelEmail: email,
		contests.ChannelVoice: voice,
	}, nil
}

func logResult(res scheduler.FireResult) {
	ev := log.Info()
	if res.Err != nil || res.Failed > 0 {
		ev = log.Warn().AnErr("error", res.Err)
	}
	ev.Str("contest", res.Contest).
		Time("occurrence", res.Occurrence).
		Int("attempted", res.Attempted).
		Int("failed", res.Failed).
		Bool("late", res.Late).
		Msg("firing complete")
}
