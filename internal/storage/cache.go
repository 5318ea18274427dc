package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"merchanza/internal/models"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// CatalogCacheConfig configures the Redis-backed catalog list cache.
type CatalogCacheConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Logger       *slog.Logger
	TLS          RedisTLSConfig
}

// catalogCache decorates a Repository with read-through Redis caching of the
// product list queries. Catalog writes invalidate the cached lists; cache
// failures degrade to the inner repository rather than failing the request.
type catalogCache struct {
	Repository
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
	onEvent   func(event string)
}

// NewCatalogCache wraps the provided repository with a Redis cache for the
// product listing endpoints. The caller is responsible for ensuring the Redis
// instance is reachable.
func NewCatalogCache(inner Repository, cfg CatalogCacheConfig) (Repository, error) {
	if inner == nil {
		return nil, fmt.Errorf("catalog cache requires a repository")
	}
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	tlsConfig, err := buildRedisTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	cache := &catalogCache{
		Repository: inner,
		client:     client,
		ttl:        cfg.TTL,
		keyPrefix:  strings.TrimSpace(cfg.KeyPrefix),
		logger:     cfg.Logger,
	}
	if cache.keyPrefix == "" {
		cache.keyPrefix = "merchanza:catalog"
	}
	if cache.ttl <= 0 {
		cache.ttl = time.Minute
	}
	if cache.logger == nil {
		cache.logger = slog.Default()
	}
	return cache, nil
}

// SetCacheObserver installs a callback invoked with "hit", "miss", or
// "invalidate" as the cache is exercised. Used for metrics wiring.
func SetCacheObserver(repo Repository, observer func(event string)) {
	if cache, ok := repo.(*catalogCache); ok {
		cache.onEvent = observer
	}
}

// Close releases the Redis client alongside the inner repository.
func (c *catalogCache) Close(ctx context.Context) error {
	if err := c.client.Close(); err != nil {
		c.logger.Warn("close redis client", "error", err)
	}
	if closer, ok := c.Repository.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}

func (c *catalogCache) ListProducts() ([]models.Product, error) {
	return c.listThrough(c.key("all"), func() ([]models.Product, error) {
		return c.Repository.ListProducts()
	})
}

func (c *catalogCache) ListProductsByCategory(category string) ([]models.Product, error) {
	normalized := strings.ToLower(strings.TrimSpace(category))
	return c.listThrough(c.key("category:"+normalized), func() ([]models.Product, error) {
		return c.Repository.ListProductsByCategory(category)
	})
}

func (c *catalogCache) AddProduct(params AddProductParams) (models.Product, error) {
	product, err := c.Repository.AddProduct(params)
	if err != nil {
		return models.Product{}, err
	}
	c.invalidate(product.Category)
	return product, nil
}

func (c *catalogCache) RemoveProduct(id int64) (models.Product, error) {
	product, err := c.Repository.RemoveProduct(id)
	if err != nil {
		return models.Product{}, err
	}
	c.invalidate(product.Category)
	return product, nil
}

func (c *catalogCache) listThrough(key string, load func() ([]models.Product, error)) ([]models.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var products []models.Product
		if decodeErr := json.Unmarshal(payload, &products); decodeErr == nil {
			c.observe("hit")
			return products, nil
		}
		// A corrupt entry is treated as a miss and rewritten below.
		c.logger.Warn("discarding corrupt catalog cache entry", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("catalog cache read failed", "key", key, "error", err)
	}
	c.observe("miss")

	products, err := load()
	if err != nil {
		return nil, err
	}
	if encoded, encodeErr := json.Marshal(products); encodeErr == nil {
		if setErr := c.client.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
			c.logger.Warn("catalog cache write failed", "key", key, "error", setErr)
		}
	}
	return products, nil
}

func (c *catalogCache) invalidate(category string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	keys := []string{c.key("all")}
	if normalized := strings.ToLower(strings.TrimSpace(category)); normalized != "" {
		keys = append(keys, c.key("category:"+normalized))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("catalog cache invalidation failed", "keys", keys, "error", err)
	}
	c.observe("invalidate")
}

func (c *catalogCache) key(suffix string) string {
	return c.keyPrefix + ":" + suffix
}

func (c *catalogCache) observe(event string) {
	if c.onEvent != nil {
		c.onEvent(event)
	}
}

func buildRedisTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
