package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/identity"
	"github.com/jrsteele09/skills-auth/internal/config"
	"github.com/jrsteele09/skills-auth/internal/metrics"
	"github.com/jrsteele09/skills-auth/internal/rate"
	"github.com/jrsteele09/skills-auth/internal/reaper"
	"github.com/jrsteele09/skills-auth/server"
	"github.com/jrsteele09/skills-auth/store"
	"github.com/jrsteele09/skills-auth/store/memory"
	"github.com/jrsteele09/skills-auth/store/postgres"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	if err := run(c); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics.New: %w", err)
	}

	repos, health, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	manager, err := token.NewManager(repos.APITokens, repos.RefreshTokens,
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
		token.WithReplayObserver(func(context.Context, *token.RefreshToken) { m.RecordRefreshReplay() }),
	)
	if err != nil {
		return err
	}
	deviceService, err := device.NewService(repos.DeviceCodes, manager, device.WithTiming(c.GetDeviceCodeExpiry(), c.GetDevicePollInterval()))
	if err != nil {
		return err
	}
	cliService, err := clisession.NewService(repos.CliSessions, manager, clisession.WithExpiry(c.GetCliSessionExpiry(), c.GetAuthCodeExpiry()))
	if err != nil {
		return err
	}
	sessions, err := sessionResolver(ctx, c)
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(manager, sessions)
	if err != nil {
		return err
	}
	limiter, err := rateLimiter(c)
	if err != nil {
		return err
	}

	srv, err := server.New(c, server.Deps{
		Device:   deviceService,
		CLI:      cliService,
		Tokens:   manager,
		Resolver: resolver,
		Limiter:  limiter,
		Metrics:  m,
		Health:   health,
	})
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdown(httpServer)
	})
	if schedule := c.GetReaperSchedule(); schedule != "" {
		r, err := reaper.New(repos.Sweepers(), reaper.WithRetention(c.GetReaperRetention()), reaper.WithRecorder(m))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return r.Run(ctx, schedule)
		})
	}
	return g.Wait()
}

// openStore picks postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, c config.Config) (store.Repos, server.HealthChecker, func(), error) {
	dsn := c.GetDatabaseURL()
	if dsn == "" {
		if !c.IsDev() {
			log.Warn().Msg("DATABASE_URL is not set, using the in-memory store")
		}
		return memory.New(), nil, func() {}, nil
	}
	pg, err := postgres.Open(ctx, dsn)
	if err != nil {
		return store.Repos{}, nil, nil, fmt.Errorf("postgres.Open: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return store.Repos{}, nil, nil, fmt.Errorf("postgres.Migrate: %w", err)
	}
	log.Info().Msg("using postgres store")
	return pg.Repos(), pg, func() { _ = pg.Close() }, nil
}

func sessionResolver(ctx context.Context, c config.Config) (identity.SessionResolver, error) {
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		r, err := identity.NewOIDCSessionResolver(ctx, issuer, c.GetOIDCClientID(), c.GetSessionCookie())
		if err != nil {
			return nil, fmt.Errorf("identity.NewOIDCSessionResolver: %w", err)
		}
		return r, nil
	}
	if c.DevSessionHeaderEnabled() {
		log.Warn().Str("header", identity.DevUserHeader).Msg("no OIDC issuer configured, trusting the dev user header")
		return identity.DevHeaderResolver{}, nil
	}
	log.Warn().Msg("no OIDC issuer configured, browser sessions are disabled")
	return identity.NoSessions{}, nil
}

func rateLimiter(c config.Config) (rate.Limiter, error) {
	url := c.GetRedisURL()
	if url == "" {
		return nil, nil
	}
	client, err := rate.NewRedisClient(url)
	if err != nil {
		return nil, err
	}
	limiter, err := rate.NewRedisLimiter(client, c.GetRateLimitMax(), c.GetRateLimitWindow())
	if err != nil {
		return nil, err
	}
	log.Info().Int("max", c.GetRateLimitMax()).Dur("window", c.GetRateLimitWindow()).Msg("redis rate limiter enabled")
	return limiter, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
