package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting read from the environment
type Config struct {
	Port       string
	SQLitePath string
	// RedisAddr empty selects the in-process runtime store
	RedisAddr string
	// AMQPURL empty disables the message bus publisher
	AMQPURL      string
	AMQPExchange string

	RoundDuration     time.Duration
	ItemsPerRound     int
	AntiSnipeWindow   time.Duration
	TimerPollInterval time.Duration
	StoreTimeout      time.Duration

	SettleWorkers    int
	SettleAlertAfter int
	SettleClaimTTL   time.Duration

	BidRateLimit float64
	BidRateBurst int
	// CORSOrigins empty allows every origin
	CORSOrigins []string

	LogLevel       string
	SeedCollection string
	SeedItems      int
}

// Load reads an optional .env file and then the environment. Unset variables
// take their defaults; malformed ones are reported together.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: failed to load %s: %w", file, err)
		}
	}

	r := &reader{}
	cfg := Config{
		Port:              r.str("PORT", "8080"),
		SQLitePath:        r.str("SQLITE_PATH", "auction.db"),
		RedisAddr:         r.str("REDIS_ADDR", ""),
		AMQPURL:           r.str("AMQP_URL", ""),
		AMQPExchange:      r.str("AMQP_EXCHANGE", "auction_events"),
		RoundDuration:     r.duration("ROUND_DURATION", time.Minute),
		ItemsPerRound:     r.positiveInt("ITEMS_PER_ROUND", 3),
		AntiSnipeWindow:   r.duration("ANTI_SNIPE_WINDOW", 10*time.Second),
		TimerPollInterval: r.duration("TIMER_POLL_INTERVAL", time.Second),
		StoreTimeout:      r.duration("STORE_TIMEOUT", 2*time.Second),
		SettleWorkers:     r.positiveInt("SETTLE_WORKERS", 4),
		SettleAlertAfter:  r.positiveInt("SETTLE_ALERT_AFTER", 5),
		SettleClaimTTL:    r.duration("SETTLE_CLAIM_TTL", 30*time.Second),
		BidRateLimit:      r.positiveFloat("BID_RATE_LIMIT", 20),
		BidRateBurst:      r.positiveInt("BID_RATE_BURST", 40),
		CORSOrigins:       r.list("CORS_ORIGINS"),
		LogLevel:          r.str("LOG_LEVEL", "info"),
		SeedCollection:    r.str("SEED_COLLECTION", ""),
		SeedItems:         r.nonNegativeInt("SEED_ITEMS", 0),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return ":" + c.Port
}

type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a positive duration", key, v))
		return def
	}
	return d
}

func (r *reader) integer(key string, def, min int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		r.errs = append(r.errs, fmt.Errorf("%s: %q must be an integer >= %d", key, v, min))
		return def
	}
	return n
}

func (r *reader) positiveInt(key string, def int) int {
	return r.integer(key, def, 1)
}

func (r *reader) nonNegativeInt(key string, def int) int {
	return r.integer(key, def, 0)
}

func (r *reader) positiveFloat(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a positive number", key, v))
		return def
	}
	return f
}

// list splits a comma separated value, dropping blank entries
func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
