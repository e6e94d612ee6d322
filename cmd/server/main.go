// Command server starts the HLS Cast upload and playback service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hlscast/internal/api"
	"hlscast/internal/auth"
	"hlscast/internal/observability/logging"
	"hlscast/internal/observability/metrics"
	"hlscast/internal/server"
	"hlscast/internal/storage"
	"hlscast/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	uploadsDir := flag.String("uploads-dir", "", "directory holding raw uploads and HLS output")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when opening a Postgres connection")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	hlsSegmentSeconds := flag.Int("hls-segment-seconds", 0, "target HLS segment duration in seconds")
	maxConversions := flag.Int("max-conversions", 0, "maximum concurrent ffmpeg subprocesses")
	acquireTimeout := flag.Duration("conversion-acquire-timeout", 0, "how long a synchronous upload waits for a conversion slot")
	conversionTimeout := flag.Duration("conversion-timeout", 0, "maximum duration for a single conversion")
	conversionWorkers := flag.Int("conversion-workers", 0, "background conversion worker count")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes (0 disables the cap)")
	uploadToken := flag.String("upload-token", "", "bearer token required on POST /upload (empty disables auth)")
	allowedOrigin := flag.String("allowed-origin", "", "origin allowed to call the API cross-site")
	retention := flag.Duration("job-retention", 0, "how long finished jobs and their files are kept (0 keeps forever)")
	cleanupInterval := flag.Duration("cleanup-interval", 0, "interval between retention sweeps")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("HLSCAST_LOG_LEVEL"))})

	listenAddr := resolveListenAddr(*addr, os.Getenv("HLSCAST_ADDR"), os.Getenv("PORT"))
	uploadsRoot := firstNonEmpty(*uploadsDir, os.Getenv("HLSCAST_UPLOADS_DIR"), "uploads")

	layout, err := storage.NewLayout(uploadsRoot)
	if err != nil {
		logger.Error("failed to prepare uploads directory", "error", err)
		os.Exit(1)
	}

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("HLSCAST_STORAGE_DRIVER"), "json"))
	var store storage.Repository
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("HLSCAST_DATA"), "data/hlscast.json")
		jsonStore, err := storage.NewStorage(dataFile)
		if err != nil {
			logger.Error("failed to open datastore", "error", err, "path", dataFile)
			os.Exit(1)
		}
		store = jsonStore
		logger.Info("using JSON datastore", "path", dataFile)
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("HLSCAST_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
		pgStore, err := storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:                 dsn,
			MaxConnections:      int32(*postgresMaxConns),
			MinConnections:      int32(*postgresMinConns),
			MaxConnLifetime:     *postgresMaxConnLifetime,
			MaxConnIdleTime:     *postgresMaxConnIdle,
			HealthCheckInterval: *postgresHealthInterval,
			ConnectTimeout:      *postgresConnectTimeout,
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("HLSCAST_POSTGRES_APP_NAME"), "hlscast"),
		})
		if err != nil {
			logger.Error("failed to open Postgres datastore", "error", err)
			os.Exit(1)
		}
		store = pgStore
		logger.Info("using Postgres datastore")
	default:
		logger.Error("unknown storage driver", "driver", driver)
		os.Exit(1)
	}

	converter := transcode.New(transcode.Options{
		BinaryPath:     firstNonEmpty(*ffmpegPath, os.Getenv("HLSCAST_FFMPEG_PATH")),
		SegmentSeconds: resolveInt(*hlsSegmentSeconds, "HLSCAST_HLS_SEGMENT_SECONDS"),
		Logger:         logging.WithComponent(logger, "transcode"),
	})
	if err := converter.Probe(); err != nil {
		logger.Error("ffmpeg is unavailable", "error", err)
		os.Exit(1)
	}

	recorder := metrics.Default()

	conversions := api.NewConversionService(api.ConversionConfig{
		Store:          store,
		Layout:         layout,
		Converter:      converter,
		Metrics:        recorder,
		MaxConcurrent:  resolveInt(*maxConversions, "HLSCAST_MAX_CONVERSIONS"),
		AcquireTimeout: *acquireTimeout,
		Timeout:        *conversionTimeout,
		Workers:        resolveInt(*conversionWorkers, "HLSCAST_CONVERSION_WORKERS"),
		Logger:         logging.WithComponent(logger, "conversion"),
	})
	conversions.Start()

	guard, err := auth.NewTokenGuard(firstNonEmpty(*uploadToken, os.Getenv("HLSCAST_UPLOAD_TOKEN")))
	if err != nil {
		logger.Error("failed to configure upload token", "error", err)
		os.Exit(1)
	}
	if guard.Enabled() {
		logger.Info("upload token authentication enabled")
	}

	origin := firstNonEmpty(*allowedOrigin, os.Getenv("HLSCAST_ALLOWED_ORIGIN"), os.Getenv("ORIGIN_ALLOWED"))

	handler := api.NewHandler(store, layout, conversions)
	handler.Guard = guard
	handler.Logger = logging.WithComponent(logger, "api")
	handler.MaxUploadBytes = resolveInt64(*maxUploadBytes, "HLSCAST_MAX_UPLOAD_BYTES")
	handler.AllowedOrigin = origin

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("HLSCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("HLSCAST_TLS_KEY")),
		},
		CORS: server.CORSConfig{AllowedOrigin: origin},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     *globalRPS,
			GlobalBurst:   *globalBurst,
			UploadLimit:   resolveInt(*uploadLimit, "HLSCAST_RATE_UPLOAD_LIMIT"),
			UploadWindow:  *uploadWindow,
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("HLSCAST_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("HLSCAST_RATE_REDIS_PASSWORD")),
			RedisTimeout:  *redisTimeout,
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanupStop := startCleanupWorker(
		runCtx,
		logging.WithComponent(logger, "cleanup"),
		store,
		layout,
		resolveRetention(*retention, os.Getenv("HLSCAST_JOB_RETENTION")),
		resolveCleanupInterval(*cleanupInterval, os.Getenv("HLSCAST_CLEANUP_INTERVAL")),
	)

	logger.Info("HLS Cast listening", "addr", listenAddr, "uploads_dir", layout.Root())
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
	}

	cleanupStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conversions.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop conversion workers", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

func resolveListenAddr(flagValue, envAddr, envPort string) string {
	if addr := firstNonEmpty(flagValue, envAddr); addr != "" {
		return addr
	}
	if port := strings.TrimSpace(envPort); port != "" {
		return fmt.Sprintf(":%s", port)
	}
	return ":8080"
}

func resolveRetention(flagValue time.Duration, envValue string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(envValue)); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

func resolveCleanupInterval(flagValue time.Duration, envValue string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(envValue)); err == nil && parsed > 0 {
		return parsed
	}
	return 10 * time.Minute
}

func resolveInt(flagValue int, envName string) int {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envName))); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

func resolveInt64(flagValue int64, envName string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if parsed, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(envName)), 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
