package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	// Registers the "pgx" driver for postgres result backends.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Registers the "sqlite3" driver for sqlite result backends.
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/data"
	"github.com/runfrog/runfrog/internal/migrate"
)

// DatabaseConfig contains configuration for broker and result backend connections.
type DatabaseConfig struct {
	// URL is the broker or result backend URL.
	URL         string
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// OpenSQL opens and pings the SQL database addressed by a postgres, sqlite or
// mysql URL and reports its dialect.
func OpenSQL(cfg DatabaseConfig) (*sql.DB, migrate.Dialect, error) {
	scheme, _, ok := strings.Cut(cfg.URL, "://")
	if !ok {
		return nil, "", fmt.Errorf("result backend url %q has no scheme", redactURL(cfg.URL))
	}
	dialect, err := migrate.ParseDialect(scheme)
	if err != nil {
		return nil, "", err
	}

	driver, dsn, err := sqlDSN(dialect, cfg.URL)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	if dialect == migrate.SQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, "", fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected", "dialect", dialect, "url", redactURL(cfg.URL))
	}

	return db, dialect, nil
}

func sqlDSN(dialect migrate.Dialect, rawURL string) (string, string, error) {
	switch dialect {
	case migrate.Postgres:
		return "pgx", rawURL, nil
	case migrate.SQLite:
		return "sqlite3", sqliteDSN(rawURL), nil
	case migrate.MySQL:
		dsn, err := mysqlDSN(rawURL)
		return "mysql", dsn, err
	default:
		return "", "", fmt.Errorf("unsupported sql dialect %q", dialect)
	}
}

// sqliteDSN turns sqlite:///abs/path.db, sqlite://rel.db or sqlite://:memory:
// into a go-sqlite3 DSN. Query parameters are passed through.
func sqliteDSN(rawURL string) string {
	_, rest, _ := strings.Cut(rawURL, "://")
	path, query, _ := strings.Cut(rest, "?")
	if query == "" {
		query = "_busy_timeout=5000"
	}
	return "file:" + path + "?" + query
}

func mysqlDSN(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}

	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = u.Host
	if u.Port() == "" {
		c.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		c.User = u.User.Username()
		c.Passwd, _ = u.User.Password()
	}
	c.DBName = strings.TrimPrefix(u.Path, "/")
	c.ParseTime = true
	c.ClientFoundRows = true
	if tlsMode := u.Query().Get("tls"); tlsMode != "" {
		c.TLSConfig = tlsMode
	}
	return c.FormatDSN(), nil
}

// ConnectRedis establishes a connection to Redis. The address, credentials
// and database come from cfg.URL; cfg.RedisConfig selects sentinel or cluster mode.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	var (
		client   redis.UniversalClient
		addrDesc string
		err      error
	)

	switch {
	case cfg.RedisConfig.UseCluster:
		client, addrDesc, err = newClusterClient(cfg.URL, cfg.RedisConfig)
	case cfg.RedisConfig.UseSentinel:
		client, addrDesc, err = newSentinelClient(cfg.URL, cfg.RedisConfig)
	default:
		client, addrDesc, err = newDirectClient(cfg.URL)
	}
	if err != nil {
		return nil, err
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", addrDesc)
	}

	return client, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newClusterClient(uri string, cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	addrs := normalizeAddrs(cfg.ClusterNodes)
	var (
		username, password string
		tlsConfig          *tls.Config
	)

	if opt, err := parseRedisURL(uri); err != nil {
		return nil, "", err
	} else if opt != nil {
		username, password, tlsConfig = opt.Username, opt.Password, opt.TLSConfig
		if len(addrs) == 0 {
			addrs = []string{opt.Addr}
		}
	}

	if len(addrs) == 0 {
		return nil, "", errors.New("redis cluster configuration requires at least one address")
	}

	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:     addrs,
		Username:  username,
		Password:  password,
		TLSConfig: tlsConfig,
	})
	return client, "cluster:" + strings.Join(addrs, ","), nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newSentinelClient(uri string, cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	sentinels := normalizeAddrs(cfg.SentinelNodes)
	if len(sentinels) == 0 {
		return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
	}

	opts := &redis.FailoverOptions{
		MasterName:       cfg.SentinelMasterName,
		SentinelAddrs:    sentinels,
		SentinelPassword: cfg.SentinelPassword,
	}
	if opt, err := parseRedisURL(uri); err != nil {
		return nil, "", err
	} else if opt != nil {
		opts.Username = opt.Username
		opts.Password = opt.Password
		opts.DB = opt.DB
		opts.TLSConfig = opt.TLSConfig
	}
	return redis.NewFailoverClient(opts), "sentinel:" + cfg.SentinelMasterName, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newDirectClient(uri string) (redis.UniversalClient, string, error) {
	opt, err := parseRedisURL(uri)
	if err != nil {
		return nil, "", err
	}
	if opt == nil {
		return nil, "", errors.New("redis direct configuration requires a URL")
	}
	return redis.NewClient(opt), opt.Addr, nil
}

// parseRedisURL returns nil options for an empty uri.
func parseRedisURL(uri string) (*redis.Options, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return nil, nil
	}
	if !isRedisURL(trimmed) {
		return nil, fmt.Errorf("not a redis url: %q", redactURL(trimmed))
	}
	opt, err := redis.ParseURL(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opt, nil
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// redactURL hides credentials in URLs before they are logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		if i := strings.LastIndex(raw, "@"); i > -1 {
			return raw[i+1:]
		}
		return raw
	}
	return u.Redacted()
}

// RunMigrations runs result backend migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect migrate.Dialect, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db, dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed", "dialect", dialect)
	}

	return nil
}
