package main

import (
	"context"
	"errors"
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
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/market-core/internal/config"
	"github.com/atmx/market-core/internal/events"
	"github.com/atmx/market-core/internal/metrics"
	"github.com/atmx/market-core/internal/pod"
	"github.com/atmx/market-core/internal/store"
	"github.com/atmx/market-core/internal/trade"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()
	fatal := func(msg string, err error) {
		slog.Error(msg, "err", err)
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		os.Exit(1)
	}

	// --- Journal ---
	var journal store.Journal
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal("database connection failed", err)
		}
		pj := store.NewPostgresJournal(pool)
		cleanup = append(cleanup, func() { pj.Close() })
		if err := pj.EnsureSchema(ctx); err != nil {
			fatal("journal schema setup failed", err)
		}
		journal = pj
		slog.Info("journal: PostgreSQL")
	case cfg.PebbleDir != "":
		pj, err := store.OpenPebbleJournal(cfg.PebbleDir)
		if err != nil {
			fatal("pebble open failed", err)
		}
		cleanup = append(cleanup, func() { pj.Close() })
		journal = pj
		slog.Info("journal: pebble", "dir", cfg.PebbleDir)
	default:
		slog.Warn("DATABASE_URL and PEBBLE_DIR not set, using in-memory journal (data will not persist)")
		journal = store.NewMemoryJournal()
	}

	// --- Quote cache ---
	var cache store.QuoteCache = store.NewMemoryQuoteCache()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fatal("invalid REDIS_URL", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache = store.NewRedisQuoteCache(rdb, cfg.CacheTTL)
		slog.Info("Redis quote cache enabled", "ttl", cfg.CacheTTL)
	}

	// --- Notifications ---
	g, gctx := errgroup.WithContext(ctx)

	wsHub := trade.NewWSHub()
	g.Go(func() error { return wsHub.Run(gctx) })
	notifiers := events.Fanout{wsHub}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("market-core"))
		if err != nil {
			fatal("nats connection failed", err)
		}
		cleanup = append(cleanup, nc.Close)
		js, err := jetstream.New(nc)
		if err != nil {
			fatal("jetstream init failed", err)
		}
		if err := events.EnsureStream(ctx, js); err != nil {
			fatal("jetstream stream setup failed", err)
		}
		np := events.NewNATSPublisher(js, cfg.NotifyBuffer)
		g.Go(func() error { return np.Run(gctx) })
		notifiers = append(notifiers, np)
		slog.Info("NATS notifications enabled", "stream", events.StreamName)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.NotifyBuffer)
		cleanup = append(cleanup, func() { kp.Close() })
		g.Go(func() error { return kp.Run(gctx) })
		notifiers = append(notifiers, kp)
		slog.Info("Kafka notifications enabled", "topic", cfg.KafkaTopic)
	}

	// --- Pod ---
	p := pod.New(journal, notifiers, pod.Options{
		Operators:       cfg.Operators,
		FeeRateBps:      cfg.FeeRateBps,
		FeeAccount:      cfg.FeeAccount,
		DefaultToken:    cfg.CollateralToken,
		CheckInvariants: cfg.CheckInvariants,
	})
	if err := p.Recover(ctx); err != nil {
		fatal("journal replay failed", err)
	}

	tradeSvc := trade.NewService(p, cache)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+trade.UserHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := p.Halted(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"halted","service":"market-core","seq":%d}`, p.Seq())
			return
		}
		fmt.Fprintf(w, `{"status":"ok","service":"market-core","seq":%d}`, p.Seq())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live order, trade and settlement notifications.
		// Mounted outside the timeout middleware so connections stay open.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("market-core listening", "port", cfg.Port, "seq", p.Seq())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down market-core...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
	}
	fmt.Println("market-core stopped")
}
