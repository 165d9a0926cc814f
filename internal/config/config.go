package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/marketcart/internal/checkout"
	"github.com/roach88/marketcart/internal/repository"
	"github.com/roach88/marketcart/internal/scheduler"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MARKETCART_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrInvalid is returned for configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("20m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the complete runtime configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Keys     KeysConfig     `yaml:"keys"`
	Discount DiscountConfig `yaml:"discount"`
	HTTP     HTTPConfig     `yaml:"http"`
	Relay    RelayConfig    `yaml:"relay"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// KeysConfig names the durable keys.
type KeysConfig struct {
	Cart     string `yaml:"cart"`
	Checkout string `yaml:"checkout"`
}

// DiscountConfig times discount windows.
type DiscountConfig struct {
	Window            Duration `yaml:"window"`
	ExpiringThreshold Duration `yaml:"expiring_threshold"`
	Tick              Duration `yaml:"tick"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RelayConfig configures cross-process change relay over Redis pub/sub.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// KafkaConfig configures the order-placed consumer. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:     BackendSQLite,
			SQLitePath:  "marketcart.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "marketcart:",
		},
		Keys: KeysConfig{
			Cart:     repository.DefaultKey,
			Checkout: checkout.DefaultKey,
		},
		Discount: DiscountConfig{
			Window:            Duration(scheduler.DefaultWindow),
			ExpiringThreshold: Duration(scheduler.DefaultThreshold),
			Tick:              Duration(scheduler.DefaultTick),
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Relay: RelayConfig{
			Channel: "cartUpdated",
		},
		Kafka: KafkaConfig{
			Topic:   checkout.DefaultTopic,
			GroupID: checkout.DefaultGroupID,
		},
	}
}

// Scheduler returns the discount timing as scheduler configuration.
func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Window:    time.Duration(c.Discount.Window),
		Threshold: time.Duration(c.Discount.ExpiringThreshold),
		Tick:      time.Duration(c.Discount.Tick),
	}
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from path (optional) and the process
// environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode validates data against the CUE schema and decodes it over cfg.
func decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	if raw == nil {
		return nil
	}
	if err := validateSchema(raw); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode YAML: %w", err)
	}
	return nil
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks constraints that span fields.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%w: store.sqlite_path is required for the sqlite backend", ErrInvalid)
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis backend", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalid, c.Store.Backend)
	}
	if c.Keys.Cart == "" || c.Keys.Checkout == "" {
		return fmt.Errorf("%w: durable keys must not be empty", ErrInvalid)
	}
	if c.Keys.Cart == c.Keys.Checkout {
		return fmt.Errorf("%w: cart and checkout keys must differ", ErrInvalid)
	}
	if c.Discount.Window <= 0 || c.Discount.Tick <= 0 || c.Discount.ExpiringThreshold <= 0 {
		return fmt.Errorf("%w: discount durations must be positive", ErrInvalid)
	}
	if c.Discount.ExpiringThreshold >= c.Discount.Window {
		return fmt.Errorf("%w: discount.expiring_threshold must be shorter than discount.window", ErrInvalid)
	}
	if c.Relay.Enabled && c.Store.Backend != BackendRedis {
		return fmt.Errorf("%w: relay requires the redis store backend", ErrInvalid)
	}
	return nil
}

// applyEnv overrides cfg from MARKETCART_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"STORE_BACKEND":  &cfg.Store.Backend,
		"SQLITE_PATH":    &cfg.Store.SQLitePath,
		"REDIS_ADDR":     &cfg.Store.RedisAddr,
		"REDIS_PREFIX":   &cfg.Store.RedisPrefix,
		"CART_KEY":       &cfg.Keys.Cart,
		"CHECKOUT_KEY":   &cfg.Keys.Checkout,
		"HTTP_ADDR":      &cfg.HTTP.Addr,
		"RELAY_CHANNEL":  &cfg.Relay.Channel,
		"KAFKA_TOPIC":    &cfg.Kafka.Topic,
		"KAFKA_GROUP_ID": &cfg.Kafka.GroupID,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*Duration{
		"DISCOUNT_WINDOW":    &cfg.Discount.Window,
		"EXPIRING_THRESHOLD": &cfg.Discount.ExpiringThreshold,
		"TICK":               &cfg.Discount.Tick,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err)
		}
		*dst = Duration(d)
	}

	if v, ok := lookup(EnvPrefix + "RELAY_ENABLED"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sRELAY_ENABLED: %v", ErrInvalid, EnvPrefix, err)
		}
		cfg.Relay.Enabled = enabled
	}
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	return nil
}

// parseDuration accepts a Go duration string or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
