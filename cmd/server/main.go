// Command server starts the Merchanza storefront API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"merchanza/internal/api"
	"merchanza/internal/auth"
	"merchanza/internal/observability/logging"
	"merchanza/internal/observability/metrics"
	"merchanza/internal/server"
	"merchanza/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for session tokens")
	tokenTTL := flag.Duration("token-ttl", 0, "session token lifetime (0 means tokens never expire)")
	uploadDir := flag.String("upload-dir", "", "directory for uploaded product images")
	publicBaseURL := flag.String("public-base-url", "", "public base URL used when building image links")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed via CORS (empty allows all)")
	cacheDriver := flag.String("cache-driver", "", "catalog cache driver (none or redis)")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the catalog cache")
	cacheRedisAddrs := flag.String("cache-redis-addrs", "", "comma separated Redis addresses for the catalog cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the catalog cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the catalog cache")
	cacheRedisMasterName := flag.String("cache-redis-sentinel-master", "", "Redis sentinel master name for the catalog cache")
	cacheRedisPoolSize := flag.Int("cache-redis-pool-size", 0, "maximum Redis connections for the catalog cache")
	cacheKeyPrefix := flag.String("cache-key-prefix", "", "key prefix for catalog cache entries")
	cacheTTL := flag.Duration("cache-ttl", 0, "TTL for cached catalog listings")
	cacheRedisTLSCA := flag.String("cache-redis-tls-ca", "", "path to Redis TLS CA certificate for the catalog cache")
	cacheRedisTLSCert := flag.String("cache-redis-tls-cert", "", "path to Redis TLS client certificate for the catalog cache")
	cacheRedisTLSKey := flag.String("cache-redis-tls-key", "", "path to Redis TLS client key for the catalog cache")
	cacheRedisTLSServerName := flag.String("cache-redis-tls-server-name", "", "override Redis TLS server name for the catalog cache")
	cacheRedisTLSSkipVerify := flag.Bool("cache-redis-tls-skip-verify", false, "skip Redis TLS verification for the catalog cache")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MERCHANZA_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MERCHANZA_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	secret := firstNonEmpty(*jwtSecret, os.Getenv("MERCHANZA_JWT_SECRET"))
	if secret == "" {
		logger.Error("no token secret configured: provide --jwt-secret or MERCHANZA_JWT_SECRET")
		os.Exit(1)
	}
	var issuerOptions []auth.Option
	if ttl := resolveDuration(*tokenTTL, "MERCHANZA_TOKEN_TTL", 0); ttl > 0 {
		issuerOptions = append(issuerOptions, auth.WithTTL(ttl))
	}
	issuer, err := auth.NewIssuer(secret, issuerOptions...)
	if err != nil {
		logger.Error("failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("MERCHANZA_ADDR"))
	if listenAddr == "" {
		listenAddr = ":4000"
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver := resolveStorageDriver(*storageDriver, os.Getenv("MERCHANZA_STORAGE_DRIVER"), postgresDefaultDSN)

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MERCHANZA_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		maxConns := resolveInt(*postgresMaxConns, "MERCHANZA_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MERCHANZA_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MERCHANZA_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MERCHANZA_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MERCHANZA_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MERCHANZA_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MERCHANZA_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	cacheCfg := storage.CatalogCacheConfig{
		Addr:       firstNonEmpty(*cacheRedisAddr, os.Getenv("MERCHANZA_CACHE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*cacheRedisAddrs, os.Getenv("MERCHANZA_CACHE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*cacheRedisUsername, os.Getenv("MERCHANZA_CACHE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*cacheRedisPassword, os.Getenv("MERCHANZA_CACHE_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*cacheRedisMasterName, os.Getenv("MERCHANZA_CACHE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*cacheRedisPoolSize, "MERCHANZA_CACHE_REDIS_POOL_SIZE"),
		KeyPrefix:  firstNonEmpty(*cacheKeyPrefix, os.Getenv("MERCHANZA_CACHE_KEY_PREFIX")),
		TTL:        resolveDuration(*cacheTTL, "MERCHANZA_CACHE_TTL", 0),
		Logger:     logging.WithComponent(logger, "catalog-cache"),
		TLS: storage.RedisTLSConfig{
			CAFile:             firstNonEmpty(*cacheRedisTLSCA, os.Getenv("MERCHANZA_CACHE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*cacheRedisTLSCert, os.Getenv("MERCHANZA_CACHE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*cacheRedisTLSKey, os.Getenv("MERCHANZA_CACHE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*cacheRedisTLSServerName, os.Getenv("MERCHANZA_CACHE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*cacheRedisTLSSkipVerify, "MERCHANZA_CACHE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	store, err = configureCatalogCache(firstNonEmpty(*cacheDriver, os.Getenv("MERCHANZA_CACHE_DRIVER")), store, cacheCfg, recorder, logger)
	if err != nil {
		logger.Error("failed to configure catalog cache", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, issuer)
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.UploadDir = firstNonEmpty(*uploadDir, os.Getenv("MERCHANZA_UPLOAD_DIR"))
	handler.PublicBaseURL = firstNonEmpty(*publicBaseURL, os.Getenv("MERCHANZA_PUBLIC_BASE_URL"))

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MERCHANZA_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MERCHANZA_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr:            listenAddr,
		TLS:             tlsCfg,
		CORS:            server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("MERCHANZA_CORS_ORIGINS")))},
		Logger:          logger,
		Metrics:         recorder,
		ShutdownTimeout: resolveDuration(*shutdownTimeout, "MERCHANZA_SHUTDOWN_TIMEOUT", 0),
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Merchanza API listening", "addr", listenAddr, "storage_driver", driver)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureCatalogCache(driver string, inner storage.Repository, cfg storage.CatalogCacheConfig, recorder *metrics.Recorder, logger *slog.Logger) (storage.Repository, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for catalog cache")
		}
		cached, err := storage.NewCatalogCache(inner, cfg)
		if err != nil {
			return nil, err
		}
		storage.SetCacheObserver(cached, recorder.ObserveCacheEvent)
		logger.Info("catalog cache enabled", "addr", firstNonEmpty(cfg.Addr, strings.Join(cfg.Addrs, ",")))
		return cached, nil
	case "", "none":
		return inner, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MERCHANZA_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
