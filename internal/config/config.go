package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jwtly10/barsim/internal/rounding"
	"github.com/jwtly10/barsim/internal/types"
)

const (
	ProviderOanda    = "oanda"
	ProviderBinance  = "binance"
	ProviderPostgres = "postgres"

	dateLayout = "2006-01-02"
)

type Config struct {
	Provider    string
	Symbols     []string
	Resolutions []types.Resolution
	From        time.Time
	To          time.Time
	// Granularity of the base bars, in the provider's own notation ("D", "1h").
	Granularity string

	CacheDir    string
	CacheMaxAge time.Duration
	ForceUpdate bool

	BuyFeeRate  float64
	SellFeeRate float64
	Rounding    rounding.Policy
	InitialCash float64

	DatabaseDSN string
	Oanda       OandaConfig
	Binance     BinanceConfig

	LogLevel string
}

type OandaConfig struct {
	AccountID string
	APIKey    string
	APIURL    string
}

type BinanceConfig struct {
	APIKey    string
	SecretKey string
}

// Load reads the given env files (".env" when none are named, skipped if
// missing) and then builds the config from the environment. Variables
// already set win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}

	var errs []error
	p := parser{errs: &errs}

	to := p.date("TO", time.Now().UTC().Truncate(24*time.Hour))
	cfg := &Config{
		Provider:    strings.ToLower(getEnv("DATA_PROVIDER", ProviderOanda)),
		Symbols:     getList("SYMBOLS", "NAS100_USD"),
		Resolutions: p.resolutions("RESOLUTIONS", "1"),
		From:        p.date("FROM", to.AddDate(-1, 0, 0)),
		To:          to,
		Granularity: getEnv("GRANULARITY", "D"),

		CacheDir:    getEnv("CACHE_DIR", "data"),
		CacheMaxAge: p.duration("CACHE_MAX_AGE", 24*time.Hour),
		ForceUpdate: p.bool("FORCE_UPDATE", false),

		BuyFeeRate:  p.float("BUY_FEE_RATE", 0),
		SellFeeRate: p.float("SELL_FEE_RATE", 0),
		InitialCash: p.float("INITIAL_CASH", 10000),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		Oanda: OandaConfig{
			AccountID: os.Getenv("OANDA_ACCOUNT_ID"),
			APIKey:    os.Getenv("OANDA_API_KEY"),
			APIURL:    os.Getenv("OANDA_API_URL"),
		},
		Binance: BinanceConfig{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			SecretKey: os.Getenv("BINANCE_SECRET_KEY"),
		},

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	policy, err := rounding.Parse(os.Getenv("PRICE_ROUNDING"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PRICE_ROUNDING: %w", err))
	}
	cfg.Rounding = policy

	errs = append(errs, cfg.validate()...)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.Provider {
	case ProviderOanda, ProviderBinance:
	case ProviderPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATA_PROVIDER: unknown provider %q (use: oanda, binance, postgres)", c.Provider))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("SYMBOLS: at least one symbol is required"))
	}
	if !c.From.Before(c.To) {
		errs = append(errs, fmt.Errorf("FROM (%s) must be before TO (%s)", c.From.Format(dateLayout), c.To.Format(dateLayout)))
	}
	if c.BuyFeeRate < 0 || c.SellFeeRate < 0 {
		errs = append(errs, errors.New("fee rates cannot be negative"))
	}
	return errs
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getList(key, fallback string) []string {
	var out []string
	for _, s := range strings.Split(getEnv(key, fallback), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, value string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("%s: invalid value %q: %w", key, value, err))
}

func (p parser) float(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p parser) bool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p parser) duration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

// date accepts 2006-01-02 or RFC3339.
func (p parser) date(key string, fallback time.Time) time.Time {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return t.UTC()
}

func (p parser) resolutions(key, fallback string) []types.Resolution {
	var out []types.Resolution
	for _, s := range getList(key, fallback) {
		n, err := strconv.Atoi(s)
		if err == nil && n < 1 {
			err = errors.New("must be at least 1")
		}
		if err != nil {
			p.fail(key, s, err)
			continue
		}
		out = append(out, types.Resolution(n))
	}
	return out
}
