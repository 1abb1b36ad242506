package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API and GUI.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the task executor pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the expired-result cleanup loop.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains task worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines pulling from the broker.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// ReceiveWait bounds a single broker receive so shutdown is observed promptly.
	ReceiveWait time.Duration `env:"WORKER_RECEIVE_WAIT" envDefault:"5s"`

	// RequeueOnStart returns tasks left in the Redis processing list back to
	// the queue at startup. Enable only when this is the sole worker process.
	RequeueOnStart bool `env:"WORKER_REQUEUE_ON_START" envDefault:"false"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.ReceiveWait < time.Second {
		w.ReceiveWait = time.Second
	}
}

// ReaperConfig contains result reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"10m"`

	// StaleRunningMaxAge fails tasks stuck in PENDING or RUNNING longer than this.
	// Zero disables the step.
	StaleRunningMaxAge time.Duration `env:"REAPER_STALE_MAX_AGE" envDefault:"0s"`

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.StaleRunningMaxAge < 0 {
		r.StaleRunningMaxAge = 0
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
