package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/wellness/internal/adaptation"
	"example.com/wellness/internal/api"
	"example.com/wellness/internal/auth"
	"example.com/wellness/internal/availability"
	"example.com/wellness/internal/calendar"
	"example.com/wellness/internal/config"
	persistence "example.com/wellness/internal/persistence/postgres"
	"example.com/wellness/internal/reconcile"
	"example.com/wellness/internal/schedule"
	"example.com/wellness/internal/signals"
	httptransport "example.com/wellness/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := persistence.NewStore(pool)
	locks := persistence.NewUserLocks(pool)

	tokens := calendar.NewTokenSource(calendar.OAuthRefresh(
		&http.Client{Timeout: 15 * time.Second},
		cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken,
	))
	remote := calendar.NewRetrying(
		calendar.NewGoogleClient(cfg.CalendarBaseURL, cfg.CalendarID, tokens),
		calendar.RetryPolicy{
			Attempts:  cfg.RemoteRetries,
			BaseDelay: cfg.RemoteRetryDelay,
			Timeout:   cfg.RemoteTimeout,
		},
	)

	resolver := availability.NewResolver(remote)
	placer := schedule.NewPlacer(schedule.NewDetector(cfg.ConflictBuffer), cfg.ProbeStep)
	engine := reconcile.NewEngine(resolver, placer, remote, store, locks,
		reconcile.WithHorizonDays(cfg.HorizonDays))

	producer := signals.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	publisher := signals.NewPublisher(producer, cfg.SignalsTopic)

	handler := api.NewHandler(engine, store, publisher, adaptation.NewTrigger(adaptation.DefaultWindowSize))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("wellness-scheduler listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
