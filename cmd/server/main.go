package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/predictions/internal/betdetails"
	"github.com/atmx/predictions/internal/config"
	"github.com/atmx/predictions/internal/countdown"
	"github.com/atmx/predictions/internal/explorer"
	"github.com/atmx/predictions/internal/history"
	"github.com/atmx/predictions/internal/i18n"
	"github.com/atmx/predictions/internal/metrics"
	"github.com/atmx/predictions/internal/payout"
	"github.com/atmx/predictions/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("database migration failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Translations ---
	bundle := i18n.NewBundle(cfg.I18n.DefaultLanguage)
	if cfg.I18n.CatalogPath != "" {
		if err := bundle.LoadFile(cfg.I18n.CatalogPath); err != nil {
			slog.Error("failed to load translations", "err", err)
			os.Exit(1)
		}
	}

	// --- Countdown to the latest round's lock ---
	// Paused until the first WebSocket client connects.
	cd := countdown.New(latestLock(ctx, st))
	cd.Pause()

	// --- WebSocket hub ---
	wsHub := history.NewWSHub()

	// --- History service ---
	calc := payout.NewCalculator(cfg.Chain.TokenDecimals)
	links := explorer.New(cfg.Chain.ChainID, cfg.Chain.ExplorerURL)
	historySvc := history.NewService(history.Deps{
		Store:      st,
		Calculator: calc,
		Details:    betdetails.NewBuilder(calc, links),
		Bundle:     bundle,
		Links:      links,
		Countdown:  cd,
		Hub:        wsHub,
		Buffer:     cfg.BufferSeconds(),
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"predictions"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for round, bet and countdown updates. Kept
		// outside the timeout middleware.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))

			// Round snapshots.
			r.Get("/rounds", historySvc.ListRounds)
			r.Post("/rounds", historySvc.UpsertRound)
			r.Get("/rounds/{epoch}", historySvc.GetRound)

			// Bets and bet history.
			r.Post("/bets", historySvc.RecordBet)
			r.Get("/users/{address}/bets", historySvc.ListUserBets)
			r.Get("/users/{address}/bets/{epoch}", historySvc.GetBetDetails)

			r.Get("/countdown", historySvc.GetCountdown)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return wsHub.Run(ctx) })
	g.Go(func() error { return cd.Run(ctx, wsHub.Presence()) })
	g.Go(func() error { return historySvc.StreamCountdown(ctx) })

	g.Go(func() error {
		slog.Info("predictions listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down predictions...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
	fmt.Println("predictions stopped")
}

// latestLock returns the lock time of the newest stored round, or now when
// there is none.
func latestLock(ctx context.Context, st store.Store) int64 {
	epoch, err := st.CurrentEpoch(ctx)
	if err != nil || epoch == 0 {
		return time.Now().Unix()
	}
	rd, err := st.GetRound(ctx, epoch)
	if err != nil {
		return time.Now().Unix()
	}
	return rd.LockTimestamp
}
