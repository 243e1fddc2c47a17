package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/gohye/auction-core/internal/domain/auction"
)

const envPrefix = "AUCTION_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	StorePath           string           `toml:"store_path"`
	SweeperIntervalMS   int              `toml:"sweeper_interval_ms"`
	BidRetryMax         int              `toml:"bid_retry_max"`
	BidRetryBaseMS      int              `toml:"bid_retry_base_ms"`
	OperationDeadlineMS int              `toml:"operation_deadline_ms"`
	MaxListBids         int              `toml:"max_list_bids"`
	MinDurationHours    int              `toml:"min_duration_hours"`
	MaxDurationHours    int              `toml:"max_duration_hours"`
	CurrencyPrecision   map[string]int32 `toml:"currency_precision_map"`
	ClosedCacheSize     int              `toml:"closed_cache_size"`
	EventBuffer         int              `toml:"event_buffer"`

	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Discord DiscordConfig `toml:"discord"`
	NATS    NATSConfig    `toml:"nats"`
	Redis   RedisConfig   `toml:"redis"`
	Mongo   MongoConfig   `toml:"mongo"`
	Spaces  SpacesConfig  `toml:"spaces"`
}

type LogConfig struct {
	Level      slog.Level `toml:"level"`
	AddSource  bool       `toml:"add_source"`
	NoColor    bool       `toml:"no_color"`
	LogQueries bool       `toml:"log_queries"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type DiscordConfig struct {
	Token          string       `toml:"token"`
	AuditChannelID snowflake.ID `toml:"audit_channel_id"`
}

type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type RedisConfig struct {
	Addr             string `toml:"addr"`
	Password         string `toml:"password"`
	DB               int    `toml:"db"`
	ChannelPrefix    string `toml:"channel_prefix"`
	DedupeTTLMinutes int    `toml:"dedupe_ttl_minutes"`
}

type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type SpacesConfig struct {
	Key             string `toml:"key"`
	Secret          string `toml:"secret"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Endpoint        string `toml:"endpoint"`
	IntervalMinutes int    `toml:"interval_minutes"`
}

func Default() Config {
	return Config{
		StorePath:           "auctions.db",
		SweeperIntervalMS:   5000,
		BidRetryMax:         3,
		BidRetryBaseMS:      10,
		OperationDeadlineMS: 5000,
		MaxListBids:         10,
		MinDurationHours:    1,
		MaxDurationHours:    168,
		CurrencyPrecision: map[string]int32{
			string(auction.CurrencyPrimary):   2,
			string(auction.CurrencySecondary): 2,
			string(auction.CurrencyFiat):      2,
		},
		ClosedCacheSize: 1024,
		EventBuffer:     1024,
		Log:             LogConfig{Level: slog.LevelInfo},
		Mongo: MongoConfig{
			Database:   "auctions",
			Collection: "auction_events",
		},
		Spaces: SpacesConfig{IntervalMinutes: 360},
	}
}

// Load reads the TOML file at path over the defaults, then applies the
// optional dotenv file and AUCTION_* environment variables. An empty path
// skips the TOML file.
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		dec := toml.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err = dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"STORE_PATH":      &c.StorePath,
		"METRICS_ADDR":    &c.Metrics.Addr,
		"DISCORD_TOKEN":   &c.Discord.Token,
		"NATS_URL":        &c.NATS.URL,
		"REDIS_ADDR":      &c.Redis.Addr,
		"REDIS_PASSWORD":  &c.Redis.Password,
		"MONGO_URI":       &c.Mongo.URI,
		"SPACES_KEY":      &c.Spaces.Key,
		"SPACES_SECRET":   &c.Spaces.Secret,
		"SPACES_BUCKET":   &c.Spaces.Bucket,
		"SPACES_REGION":   &c.Spaces.Region,
		"SPACES_ENDPOINT": &c.Spaces.Endpoint,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SWEEPER_INTERVAL_MS":   &c.SweeperIntervalMS,
		"BID_RETRY_MAX":         &c.BidRetryMax,
		"BID_RETRY_BASE_MS":     &c.BidRetryBaseMS,
		"OPERATION_DEADLINE_MS": &c.OperationDeadlineMS,
		"MAX_LIST_BIDS":         &c.MaxListBids,
		"CLOSED_CACHE_SIZE":     &c.ClosedCacheSize,
		"EVENT_BUFFER":          &c.EventBuffer,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s must be an integer, got %q", ErrInvalid, envPrefix, key, v)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w: %sLOG_LEVEL: %v", ErrInvalid, envPrefix, err)
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "DISCORD_AUDIT_CHANNEL_ID"); ok {
		id, err := snowflake.Parse(v)
		if err != nil {
			return fmt.Errorf("%w: %sDISCORD_AUDIT_CHANNEL_ID: %v", ErrInvalid, envPrefix, err)
		}
		c.Discord.AuditChannelID = id
	}
	return nil
}

func (c *Config) Validate() error {
	checks := []struct {
		key      string
		val      int
		min, max int
	}{
		{"sweeper_interval_ms", c.SweeperIntervalMS, 500, 60000},
		{"bid_retry_max", c.BidRetryMax, 0, 10},
		{"bid_retry_base_ms", c.BidRetryBaseMS, 1, 1000},
		{"operation_deadline_ms", c.OperationDeadlineMS, 100, 60000},
		{"max_list_bids", c.MaxListBids, 1, 100},
		{"min_duration_hours", c.MinDurationHours, 1, 8760},
		{"max_duration_hours", c.MaxDurationHours, 1, 8760},
		{"closed_cache_size", c.ClosedCacheSize, 1, 1 << 20},
		{"event_buffer", c.EventBuffer, 1, 1 << 20},
	}
	for _, ch := range checks {
		if ch.val < ch.min || ch.val > ch.max {
			return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalid, ch.key, ch.min, ch.max, ch.val)
		}
	}

	if c.StorePath == "" {
		return fmt.Errorf("%w: store_path is required", ErrInvalid)
	}
	if c.MaxDurationHours < c.MinDurationHours {
		return fmt.Errorf("%w: max_duration_hours (%d) is below min_duration_hours (%d)",
			ErrInvalid, c.MaxDurationHours, c.MinDurationHours)
	}
	if _, ok := c.CurrencyPrecision[string(auction.CurrencyPrimary)]; !ok {
		return fmt.Errorf("%w: currency_precision_map must include %q", ErrInvalid, auction.CurrencyPrimary)
	}
	for currency, places := range c.CurrencyPrecision {
		if places < 0 || places > 8 {
			return fmt.Errorf("%w: currency_precision_map.%s must be between 0 and 8, got %d", ErrInvalid, currency, places)
		}
	}

	if c.Discord.Token != "" && c.Discord.AuditChannelID == 0 {
		return fmt.Errorf("%w: discord.audit_channel_id is required with a token", ErrInvalid)
	}
	if c.Redis.DedupeTTLMinutes < 0 {
		return fmt.Errorf("%w: redis.dedupe_ttl_minutes must not be negative", ErrInvalid)
	}
	if c.Spaces.Enabled() {
		if c.Spaces.Key == "" || c.Spaces.Secret == "" || c.Spaces.Region == "" {
			return fmt.Errorf("%w: spaces.key, spaces.secret and spaces.region are required with a bucket", ErrInvalid)
		}
		if c.Spaces.IntervalMinutes < 1 {
			return fmt.Errorf("%w: spaces.interval_minutes must be at least 1", ErrInvalid)
		}
	}
	return nil
}

func (s SpacesConfig) Enabled() bool { return s.Bucket != "" }

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweeperIntervalMS) * time.Millisecond
}

// EngineOptions converts the config into engine options. A bid_retry_max of
// zero turns retries off.
func (c *Config) EngineOptions() auction.Options {
	retries := c.BidRetryMax
	if retries == 0 {
		retries = -1
	}

	precision := make(map[auction.Currency]int32, len(c.CurrencyPrecision))
	for currency, places := range c.CurrencyPrecision {
		precision[auction.Currency(currency)] = places
	}

	return auction.Options{
		BidRetryMax:       retries,
		BidRetryBase:      time.Duration(c.BidRetryBaseMS) * time.Millisecond,
		OperationDeadline: time.Duration(c.OperationDeadlineMS) * time.Millisecond,
		DefaultListBids:   c.MaxListBids,
		ClosedCacheSize:   c.ClosedCacheSize,
		EventBuffer:       c.EventBuffer,
		Rules: auction.Rules{
			MinDurationHours: c.MinDurationHours,
			MaxDurationHours: c.MaxDurationHours,
			Precision:        precision,
		},
	}
}
