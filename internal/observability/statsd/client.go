// Package statsd emits runfrog metrics in the DogStatsD line format.
package statsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink is the port services emit metrics through.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// DefaultService is the service tag value when Config.Service is empty.
const DefaultService = "runfrog"

// Config describes the StatsD endpoint and the tags every metric carries.
type Config struct {
	Address string
	Prefix  string
	Service string            // service tag; defaults to DefaultService
	Modes   []string          // process roles (http, worker, reaper), sent as the mode tag
	Tags    map[string]string // extra tags added to every metric
	Logger  *slog.Logger
}

// Client writes metrics over UDP. It is safe for concurrent use and a nil
// Client drops everything.
type Client struct {
	prefix string
	base   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the StatsD endpoint.
func NewClient(cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("statsd address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}

	return &Client{
		prefix: sanitizePrefix(cfg.Prefix),
		base:   baseTags(cfg),
		logger: logger.With("component", "statsd"),
		conn:   conn,
	}, nil
}

// Count increments a counter.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.write(name, strconv.FormatInt(value, 10)+"|c", tags)
}

// Gauge records the current value of a gauge.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.write(name, formatFloat(value)+"|g", tags)
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	c.write(name, formatFloat(float64(value)/float64(time.Millisecond))+"|ms", tags)
}

// Close releases the UDP socket. Later writes are dropped.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(name, payload string, tags map[string]string) {
	if c == nil {
		return
	}
	line := c.line(name, payload, tags)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "metric", name, "error", err)
	}
}

func (c *Client) line(name, payload string, tags map[string]string) string {
	metric := normalizeMetricName(name)
	if metric == "" {
		return ""
	}
	if c.prefix != "" {
		metric = c.prefix + "." + metric
	}
	return metric + ":" + payload + formatTags(c.base, tags)
}

func baseTags(cfg Config) map[string]string {
	base := make(map[string]string, len(cfg.Tags)+2)
	for k, v := range cfg.Tags {
		if key := tagPart(k); key != "" {
			base[key] = tagPart(v)
		}
	}
	service := tagPart(cfg.Service)
	if service == "" {
		service = DefaultService
	}
	base["service"] = service

	modes := make([]string, 0, len(cfg.Modes))
	for _, m := range cfg.Modes {
		if m = tagPart(m); m != "" {
			modes = append(modes, m)
		}
	}
	if len(modes) > 0 {
		slices.Sort(modes)
		base["mode"] = strings.Join(slices.Compact(modes), "+")
	}
	return base
}

// sanitizePrefix reduces a configured prefix to a dotted metric segment.
func sanitizePrefix(prefix string) string {
	return normalizeMetricName(prefix)
}

// normalizeMetricName lowercases name and maps anything outside [a-z0-9_.-]
// to an underscore. Empty dot segments are dropped.
func normalizeMetricName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, n)
	segments := strings.Split(n, ".")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ".")
}

// tagPart trims s and replaces the characters the line format reserves.
func tagPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '|', ',', '#', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}

func formatTags(base, local map[string]string) string {
	if len(base)+len(local) == 0 {
		return ""
	}
	merged := make(map[string]string, len(base)+len(local))
	maps.Copy(merged, base)
	for k, v := range local {
		if key := tagPart(k); key != "" {
			merged[key] = tagPart(v)
		}
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		if merged[k] == "" {
			pairs[i] = k
			continue
		}
		pairs[i] = k + ":" + merged[k]
	}
	return "|#" + strings.Join(pairs, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
