package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dashboard/api"
	"dashboard/storage"
)

const (
	backendMemory = "memory"
	backendSQL    = "sql"
	backendTables = "tables"
)

type config struct {
	Debug      bool
	ListenAddr string

	Backend       string
	DatabaseURL   string
	StorageConn   string
	ItemsTable    string
	EventsQueue   string
	RedisConn     string
	ItemsCacheTTL time.Duration
	DeduperTTL    time.Duration

	AuthDomain   string
	AuthAudience string
	AuthSecret   []byte
	JWKSCacheTTL time.Duration

	Publisher storage.PublisherConfig
}

// loadConfig reads the process configuration from the environment.
func loadConfig() (config, error) {
	var cfg config
	var err error
	errs := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}

	cfg.Debug, _ = strconv.ParseBool(os.Getenv("DEBUG"))

	cfg.ListenAddr = ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.ListenAddr = ":" + v
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.StorageConn = os.Getenv("STORAGE_CONNECTION_STRING")
	cfg.ItemsTable = envOr("ITEMS_TABLE", "DashboardItems")
	cfg.EventsQueue = os.Getenv("ITEM_EVENTS_QUEUE")
	cfg.RedisConn = os.Getenv("REDIS_CONNECTION_STRING")

	cfg.Backend = strings.ToLower(os.Getenv("STORE_BACKEND"))
	if cfg.Backend == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.Backend = backendSQL
		case cfg.StorageConn != "":
			cfg.Backend = backendTables
		default:
			cfg.Backend = backendMemory
		}
	}
	switch cfg.Backend {
	case backendMemory:
	case backendSQL:
		if cfg.DatabaseURL == "" {
			errs(errors.New("missing DATABASE_URL for sql backend"))
		}
	case backendTables:
		if cfg.StorageConn == "" || cfg.ItemsTable == "" {
			errs(errors.New("missing storage config for tables backend"))
		}
	default:
		errs(fmt.Errorf("invalid STORE_BACKEND %q", cfg.Backend))
	}
	if cfg.EventsQueue != "" && cfg.StorageConn == "" {
		errs(errors.New("ITEM_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}

	cfg.ItemsCacheTTL, err = envDuration("ITEMS_CACHE_TTL", 30*time.Second, err)
	cfg.DeduperTTL, err = envDuration("DEDUPER_TTL", 24*time.Hour, err)
	cfg.JWKSCacheTTL, err = envDuration("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL, err)

	switch {
	case os.Getenv("AUTH0_TEST_MODE") == "1":
		cfg.AuthSecret = []byte(os.Getenv("TEST_JWT_SECRET"))
		if len(cfg.AuthSecret) == 0 {
			errs(errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET"))
		}
	case envBool("LOCAL_AUTH_MODE"):
		cfg.AuthSecret = []byte(os.Getenv("LOCAL_AUTH_SHARED_SECRET"))
		if len(cfg.AuthSecret) == 0 {
			errs(errors.New("LOCAL_AUTH_MODE requires LOCAL_AUTH_SHARED_SECRET"))
		}
	default:
		cfg.AuthDomain = os.Getenv("AUTH0_DOMAIN")
		cfg.AuthAudience = os.Getenv("AUTH0_AUDIENCE")
		if cfg.AuthDomain == "" || cfg.AuthAudience == "" {
			errs(errors.New("missing Auth0 config"))
		}
	}

	cfg.Publisher.Workers, err = envInt("EVENT_WORKERS", 4, err)
	cfg.Publisher.Buffer, err = envInt("EVENT_BUFFER", 256, err)
	cfg.Publisher.Retries, err = envInt("EVENT_RETRIES", 3, err)
	cfg.Publisher.Timeout, err = envDuration("EVENT_TIMEOUT", 30*time.Second, err)
	cfg.Publisher.HandoffTimeout, err = envDuration("EVENT_HANDOFF_TIMEOUT", 50*time.Millisecond, err)

	return cfg, err
}

// AuthIssuer is the expected iss claim for Auth0 tokens.
func (c config) AuthIssuer() string {
	if c.AuthDomain == "" {
		return ""
	}
	return "https://" + c.AuthDomain + "/"
}

func (c config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.AuthDomain)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// envInt parses key as a non-negative int. A previous error is passed
// through untouched so callers can chain lookups.
func envInt(key string, def int, prev error) (int, error) {
	v := os.Getenv(key)
	if v == "" || prev != nil {
		return def, prev
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return def, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func envDuration(key string, def time.Duration, prev error) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" || prev != nil {
		return def, prev
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return def, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// redisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "://") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
