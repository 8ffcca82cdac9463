// Package config holds the settings of the jarpcd process. Values come from
// built-in defaults, then an optional YAML file, then JARPC_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jarpc/codec"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "JARPC_"

type Config struct {
	ListenAddr    string         `yaml:"listen_addr"`    // framed TCP; empty disables it
	HTTPAddr      string         `yaml:"http_addr"`      // HTTP + metrics; empty disables it
	AdvertiseAddr string         `yaml:"advertise_addr"` // address announced in the registry
	Codec         string         `yaml:"codec"`          // json or cbor
	Compress      bool           `yaml:"compress"`       // snappy response frames
	LogLevel      string         `yaml:"log_level"`
	CallTimeout   time.Duration  `yaml:"call_timeout"` // 0 means only the request TTL bounds a call
	DrainTimeout  time.Duration  `yaml:"drain_timeout"`
	MaxTasks      int            `yaml:"max_tasks"` // concurrent fire-and-forget calls; 0 is unbounded
	RateLimit     float64        `yaml:"rate_limit"`
	RateBurst     int            `yaml:"rate_burst"`
	RedisAddr     string         `yaml:"redis_addr"`
	RedisQueue    string         `yaml:"redis_queue"`
	RedisWorkers  int            `yaml:"redis_workers"`
	EtcdEndpoints []string       `yaml:"etcd_endpoints"`
	ServiceName   string         `yaml:"service_name"`
	LeaseTTL      int64          `yaml:"lease_ttl"`
	Context       map[string]any `yaml:"context"` // static values injected into methods
}

// SetDefaults fills zero fields with built-in defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" && c.HTTPAddr == "" {
		c.ListenAddr = ":7070"
		c.HTTPAddr = ":8080"
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.RedisQueue == "" {
		c.RedisQueue = "jarpc"
	}
	if c.RedisWorkers == 0 {
		c.RedisWorkers = 4
	}
	if c.ServiceName == "" {
		c.ServiceName = "jarpc"
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 10
	}
}

// LoadFile overlays the YAML file at path.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays JARPC_* environment variables. Malformed numbers and
// durations are reported rather than ignored.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, set func(string) error) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("ADVERTISE_ADDR", &c.AdvertiseAddr)
	str("CODEC", &c.Codec)
	str("LOG_LEVEL", &c.LogLevel)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_QUEUE", &c.RedisQueue)
	str("SERVICE_NAME", &c.ServiceName)
	if v, ok := os.LookupEnv(EnvPrefix + "ETCD_ENDPOINTS"); ok {
		c.EtcdEndpoints = splitComma(v)
	}
	num("COMPRESS", func(v string) (err error) { c.Compress, err = strconv.ParseBool(v); return })
	num("CALL_TIMEOUT", func(v string) (err error) { c.CallTimeout, err = time.ParseDuration(v); return })
	num("DRAIN_TIMEOUT", func(v string) (err error) { c.DrainTimeout, err = time.ParseDuration(v); return })
	num("MAX_TASKS", func(v string) (err error) { c.MaxTasks, err = strconv.Atoi(v); return })
	num("RATE_LIMIT", func(v string) (err error) { c.RateLimit, err = strconv.ParseFloat(v, 64); return })
	num("RATE_BURST", func(v string) (err error) { c.RateBurst, err = strconv.Atoi(v); return })
	num("REDIS_WORKERS", func(v string) (err error) { c.RedisWorkers, err = strconv.Atoi(v); return })
	num("LEASE_TTL", func(v string) (err error) { c.LeaseTTL, err = strconv.ParseInt(v, 10, 64); return })
	return errors.Join(errs...)
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" && c.HTTPAddr == "" && c.RedisAddr == "" {
		errs = append(errs, errors.New("nothing to serve: set listen_addr, http_addr or redis_addr"))
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("call_timeout must not be negative"))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, errors.New("drain_timeout must be positive"))
	}
	if c.MaxTasks < 0 {
		errs = append(errs, errors.New("max_tasks must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate_burst must be at least 1 when rate_limit is set"))
	}
	if len(c.EtcdEndpoints) > 0 && c.LeaseTTL < 1 {
		errs = append(errs, errors.New("lease_ttl must be at least 1 second"))
	}
	return errors.Join(errs...)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
