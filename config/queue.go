package config

import (
	"strings"
	"time"
)

const (
	defaultBackendURL = "redis://localhost:6379"
	defaultStorageDir = "/frog_data"
)

// QueueConfig describes where task messages go, where task records live and
// which directory is shared between the API and the workers.
type QueueConfig struct {
	// BrokerURL selects the broker by scheme: redis, rediss, nats, sqs or memory.
	BrokerURL string `env:"FROG_BROKER_URL" envDefault:"redis://localhost:6379"`

	// ResultBackendURL selects the result store by scheme: redis, rediss, postgres,
	// postgresql, sqlite, mysql or memory.
	ResultBackendURL string `env:"FROG_RESULT_BACKEND" envDefault:"redis://localhost:6379"`

	// StorageDir is the shared storage root for staged inputs and archives.
	StorageDir string `env:"FROG_STORAGE" envDefault:"/frog_data"`

	// Name is the queue name, NATS subject or Redis key prefix.
	Name string `env:"FROG_QUEUE_NAME" envDefault:"frog"`

	// ResultTTL is how long task records are retained.
	ResultTTL time.Duration `env:"FROG_RESULT_TTL" envDefault:"24h"`

	// MaxUploadBytes bounds staged content size.
	MaxUploadBytes int64 `env:"FROG_MAX_UPLOAD_BYTES" envDefault:"104857600"`

	// FetchTimeout bounds URL submissions.
	FetchTimeout time.Duration `env:"FROG_FETCH_TIMEOUT" envDefault:"60s"`

	// AckWait is how long a received message stays leased to one worker before
	// the broker redelivers it. Workers renew the lease while a task runs.
	AckWait time.Duration `env:"FROG_ACK_WAIT" envDefault:"60s"`

	// FetchAllowPrivate lets URL submissions reach loopback, private and
	// link-local addresses.
	FetchAllowPrivate bool `env:"FROG_FETCH_ALLOW_PRIVATE" envDefault:"false"`

	// RunMigrationsOnStart applies SQL result backend migrations at startup.
	RunMigrationsOnStart bool `env:"FROG_RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	q.BrokerURL = strings.TrimSpace(q.BrokerURL)
	if q.BrokerURL == "" {
		q.BrokerURL = defaultBackendURL
	}
	q.ResultBackendURL = strings.TrimSpace(q.ResultBackendURL)
	if q.ResultBackendURL == "" {
		q.ResultBackendURL = defaultBackendURL
	}
	q.StorageDir = strings.TrimSpace(q.StorageDir)
	if q.StorageDir == "" {
		q.StorageDir = defaultStorageDir
	}
	if q.Name = strings.TrimSpace(q.Name); q.Name == "" {
		q.Name = "frog"
	}
	if q.ResultTTL < time.Minute {
		q.ResultTTL = time.Minute
	}
	if q.MaxUploadBytes <= 0 {
		q.MaxUploadBytes = 100 << 20
	}
	if q.FetchTimeout <= 0 {
		q.FetchTimeout = 60 * time.Second
	}
	if q.AckWait < time.Second {
		q.AckWait = 60 * time.Second
	}
}

// RedisConfig contains Redis topology settings. The address, password and
// database come from the broker or backend URL; these fields select sentinel
// or cluster mode.
type RedisConfig struct {
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// AnalyzerConfig describes how the external FROG report generator is invoked.
// Args may contain the placeholders {source} and {omex}.
type AnalyzerConfig struct {
	Command string   `env:"FROG_ANALYZER_COMMAND" envDefault:"runfrog-analyze"`
	Args    []string `env:"FROG_ANALYZER_ARGS"    envDefault:"--input,{source},--omex,{omex}"`
}

// Sanitize trims the configured command.
func (a *AnalyzerConfig) Sanitize() {
	a.Command = strings.TrimSpace(a.Command)
}
