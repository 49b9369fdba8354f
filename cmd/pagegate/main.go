package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/PageGate/internal/cache"
	"github.com/AlexKimmel/PageGate/internal/config"
	"github.com/AlexKimmel/PageGate/internal/gate"
	"github.com/AlexKimmel/PageGate/internal/gateway"
	"github.com/AlexKimmel/PageGate/internal/janitor"
	"github.com/AlexKimmel/PageGate/internal/obs"
	"github.com/AlexKimmel/PageGate/internal/pipeline"
	"github.com/AlexKimmel/PageGate/internal/ratelimit"
	"github.com/AlexKimmel/PageGate/internal/store"
	filestore "github.com/AlexKimmel/PageGate/internal/store/file"
	redisstore "github.com/AlexKimmel/PageGate/internal/store/redis"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	limitStore, cacheStore, err := openStores(cfg)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer limitStore.Close()
	defer cacheStore.Close()

	limiter := ratelimit.New(limitStore, ratelimit.Policy{
		Cooldown:    cfg.Limits.Cooldown(),
		HourlyLimit: cfg.Limits.Hourly,
		DailyLimit:  cfg.Limits.Daily,
	})
	resultCache := cache.New(cacheStore, cfg.Cache.TTL())

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	g := gate.New(resultCache, limiter, logger, metrics.GateHooks())

	if cfg.Pipeline.UpstreamURL == "" {
		log.Fatalf("pipeline upstream_url (or UPSTREAM_URL) is required")
	}
	producer := pipeline.New(cfg.Pipeline.UpstreamURL,
		pipeline.WithTimeout(cfg.Pipeline.Timeout()),
		pipeline.WithThrottle(cfg.Pipeline.ThrottleRPS, cfg.Pipeline.ThrottleBurst),
	)

	jctx, jcancel := context.WithCancel(context.Background())
	defer jcancel()
	jan := janitor.New(logger, []janitor.Sweeper{limiter, resultCache},
		janitor.WithInterval(cfg.Janitor.Interval()),
		janitor.WithOnSweep(func(removed int) {
			metrics.SweptRecords.Add(float64(removed))
		}),
	)
	go jan.Start(jctx)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/v1/summarize", gateway.Summarize(g, producer))

	skip := map[string]struct{}{
		"/health":                        {},
		cfg.Observability.PrometheusPath: {},
	}
	routes := map[string]struct{}{
		"/v1/summarize": {},
	}

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip, routes),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("backend", cfg.Store.Backend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	jcancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

func openStores(cfg *config.Root) (limit, results store.Store, err error) {
	if cfg.Store.Backend == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		return redisstore.New(client, "ratelimit:"), redisstore.New(client, "cache:"), nil
	}

	limit, err = filestore.Open(cfg.Store.RateLimitPath)
	if err != nil {
		return nil, nil, err
	}
	results, err = filestore.Open(cfg.Store.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return limit, results, nil
}
