package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/data"
)

// URL schemes understood by the broker and result backend factories.
const (
	SchemeRedis      = "redis"
	SchemeRedisTLS   = "rediss"
	SchemeNATS       = "nats"
	SchemeSQS        = "sqs"
	SchemeMemory     = "memory"
	SchemePostgres   = "postgres"
	SchemePostgreSQL = "postgresql"
	SchemeSQLite     = "sqlite"
	SchemeMySQL      = "mysql"
)

// Queue bundles the broker and result backend with the connections they share.
type Queue struct {
	Broker  core.Broker
	Backend core.ResultBackend

	closers []func() error
	redis   map[string]redis.UniversalClient
}

// QueueDeps groups dependencies for ConnectQueue.
type QueueDeps struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// RunMigrations applies SQL backend migrations after connecting.
	RunMigrations bool
}

// ConnectQueue builds the broker and result backend named by the configured URLs.
// A Redis client is shared when both URLs point at the same server.
func ConnectQueue(ctx context.Context, deps QueueDeps) (*Queue, error) {
	if deps.Config == nil {
		return nil, errors.New("queue config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{redis: make(map[string]redis.UniversalClient)}

	broker, err := q.newBroker(ctx, deps.Config, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect broker: %w", err), q.Close())
	}
	q.Broker = broker
	q.closers = append(q.closers, broker.Close)

	backend, err := q.newResultBackend(ctx, deps, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect result backend: %w", err), q.Close())
	}
	q.Backend = backend
	q.closers = append(q.closers, backend.Close)

	if isMemory(deps.Config.Queue.BrokerURL) != isMemory(deps.Config.Queue.ResultBackendURL) {
		logger.WarnContext(ctx, "memory broker or backend mixed with a shared one; tasks only work within this process")
	}

	return q, nil
}

// Close releases the broker, the backend and every shared connection, newest first.
func (q *Queue) Close() error {
	var errs []error
	for i := len(q.closers) - 1; i >= 0; i-- {
		if err := q.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	q.closers = nil
	return errors.Join(errs...)
}

func (q *Queue) redisClient(rawURL string, cfg *config.AppConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if c, ok := q.redis[rawURL]; ok {
		return c, nil
	}
	client, err := ConnectRedis(DatabaseConfig{URL: rawURL, RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, err
	}
	q.redis[rawURL] = client
	q.closers = append(q.closers, client.Close)
	return client, nil
}

//nolint:ireturn // the broker implementation is chosen by URL scheme.
func (q *Queue) newBroker(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (core.Broker, error) {
	rawURL := cfg.Queue.BrokerURL
	name := cfg.Queue.Name

	switch scheme(rawURL) {
	case SchemeRedis, SchemeRedisTLS:
		client, err := q.redisClient(rawURL, cfg, logger)
		if err != nil {
			return nil, err
		}
		broker := data.NewRedisBroker(client, name)
		if cfg.Worker.RequeueOnStart && cfg.IsWorkerEnabled() {
			n, err := broker.Requeue(ctx)
			if err != nil {
				return nil, fmt.Errorf("requeue in-flight tasks: %w", err)
			}
			logger.InfoContext(ctx, "requeued in-flight tasks", "count", n)
		}
		return broker, nil
	case SchemeNATS:
		nc, err := data.ConnectNATS(rawURL)
		if err != nil {
			return nil, err
		}
		broker, err := data.NewNATSBroker(nc, name, cfg.Queue.AckWait)
		if err != nil {
			nc.Close()
			return nil, err
		}
		// NATSBroker.Close drains nc.
		return broker, nil
	case SchemeSQS:
		return newSQSBroker(ctx, rawURL, name, cfg.Queue.AckWait)
	case SchemeMemory:
		return data.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unsupported broker url %q", redactURL(rawURL))
	}
}

// newSQSBroker resolves sqs://<queue>?region=<r>&endpoint=<url>&visibility=<dur>.
// The queue defaults to the configured queue name and the visibility to ackWait.
func newSQSBroker(ctx context.Context, rawURL, name string, ackWait time.Duration) (*data.SQSBroker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse sqs url: %w", err)
	}
	queueName := u.Host
	if queueName == "" {
		queueName = name
	}
	params := u.Query()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := params.Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := params.Get("endpoint")
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("resolve sqs queue %q: %w", queueName, err)
	}

	visibility := ackWait
	if raw := params.Get("visibility"); raw != "" {
		if visibility, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("parse sqs visibility: %w", err)
		}
	}

	return data.NewSQSBroker(data.SQSBrokerOptions{
		Client:            client,
		QueueURL:          aws.ToString(out.QueueUrl),
		VisibilityTimeout: visibility,
	}), nil
}

//nolint:ireturn // the backend implementation is chosen by URL scheme.
func (q *Queue) newResultBackend(ctx context.Context, deps QueueDeps, logger *slog.Logger) (core.ResultBackend, error) {
	cfg := deps.Config
	rawURL := cfg.Queue.ResultBackendURL

	switch scheme(rawURL) {
	case SchemeRedis, SchemeRedisTLS:
		client, err := q.redisClient(rawURL, cfg, logger)
		if err != nil {
			return nil, err
		}
		return data.NewRedisResultBackend(data.RedisResultBackendOptions{
			Client: client,
			TTL:    cfg.Queue.ResultTTL,
		}), nil
	case SchemePostgres, SchemePostgreSQL, SchemeSQLite, SchemeMySQL:
		db, dialect, err := OpenSQL(DatabaseConfig{URL: rawURL, Logger: logger})
		if err != nil {
			return nil, err
		}
		if deps.RunMigrations {
			if err := RunMigrations(ctx, db, dialect, logger); err != nil {
				return nil, errors.Join(err, db.Close())
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
		// SQLResultBackend.Close closes db.
		return data.NewSQLResultBackend(data.SQLResultBackendOptions{DB: db, Dialect: dialect}), nil
	case SchemeMemory:
		return data.NewMemoryResultBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported result backend url %q", redactURL(rawURL))
	}
}

func scheme(rawURL string) string {
	s, _, ok := strings.Cut(strings.TrimSpace(rawURL), "://")
	if !ok {
		return ""
	}
	return strings.ToLower(s)
}

func isMemory(rawURL string) bool { return scheme(rawURL) == SchemeMemory }
