// Package config loads and validates the scanner configuration from a
// YAML file with MEXSCAN_* environment overrides.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// MEXSCAN_MEXC_MAX_RPS.
const EnvPrefix = "MEXSCAN"

// Config is the complete scanner configuration.
type Config struct {
	Mexc       MexcConfig       `yaml:"mexc" envconfig:"MEXC"`
	Runtime    RuntimeConfig    `yaml:"runtime" envconfig:"RUNTIME"`
	Obs        ObsConfig        `yaml:"obs" envconfig:"OBS"`
	Universe   UniverseConfig   `yaml:"universe" envconfig:"UNIVERSE"`
	Sampling   SamplingConfig   `yaml:"sampling" envconfig:"SAMPLING"`
	Fees       FeesConfig       `yaml:"fees" envconfig:"FEES"`
	Thresholds ThresholdsConfig `yaml:"thresholds" envconfig:"THRESHOLDS"`
	Depth      DepthConfig      `yaml:"depth" envconfig:"DEPTH"`
	Pipeline   PipelineConfig   `yaml:"pipeline" envconfig:"PIPELINE"`
	Report     ReportConfig     `yaml:"report" envconfig:"REPORT"`
}

// MexcConfig controls the API client.
type MexcConfig struct {
	BaseURL     string   `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	Timeout     Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxRPS      float64  `yaml:"max_rps" envconfig:"MAX_RPS" validate:"gt=0"`
	MaxRetries  int      `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"gte=0"`
	BackoffBase Duration `yaml:"backoff_base" envconfig:"BACKOFF_BASE"`
	BackoffMax  Duration `yaml:"backoff_max" envconfig:"BACKOFF_MAX"`
	UserAgent   string   `yaml:"user_agent" envconfig:"USER_AGENT"`
}

// RuntimeConfig names the run.
type RuntimeConfig struct {
	RunName  string `yaml:"run_name" envconfig:"RUN_NAME"`
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`
}

// ObsConfig controls logging, tracing, and the ops HTTP endpoint.
type ObsConfig struct {
	LogLevel    string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogJSON     bool   `yaml:"log_json" envconfig:"LOG_JSON"`
	TraceStdout bool   `yaml:"trace_stdout" envconfig:"TRACE_STDOUT"`
	OpsServer   bool   `yaml:"ops_server" envconfig:"OPS_SERVER"`
	OpsAddr     string `yaml:"ops_addr" envconfig:"OPS_ADDR"`
}

// UniverseConfig filters the tradable symbol universe.
type UniverseConfig struct {
	QuoteAsset        string   `yaml:"quote_asset" envconfig:"QUOTE_ASSET" validate:"required"`
	StatusAllow       []string `yaml:"status_allow" envconfig:"STATUS_ALLOW"`
	BlacklistPatterns []string `yaml:"blacklist_patterns" envconfig:"BLACKLIST_PATTERNS"`
	Whitelist         []string `yaml:"whitelist" envconfig:"WHITELIST"`
	UseDefaultSymbols bool     `yaml:"use_default_symbols" envconfig:"USE_DEFAULT_SYMBOLS"`
	MinQuoteVolume24h float64  `yaml:"min_quote_volume_24h" envconfig:"MIN_QUOTE_VOLUME_24H" validate:"gte=0"`
	MinTrades24h      int64    `yaml:"min_trades_24h" envconfig:"MIN_TRADES_24H" validate:"gte=0"`

	// UseQuoteVolumeEstimate allows volume*mid as a substitute when the
	// exchange omits quoteVolume. RequireTradeCount makes a null trade
	// count a rejection instead of a pass-through.
	UseQuoteVolumeEstimate bool `yaml:"use_quote_volume_estimate" envconfig:"USE_QUOTE_VOLUME_ESTIMATE"`
	RequireTradeCount      bool `yaml:"require_trade_count" envconfig:"REQUIRE_TRADE_COUNT"`
}

// SamplingConfig holds the spread and depth sampling schedules.
type SamplingConfig struct {
	Spread SpreadSamplingConfig `yaml:"spread" envconfig:"SPREAD"`
	Depth  DepthSamplingConfig  `yaml:"depth" envconfig:"DEPTH"`
}

// SpreadSamplingConfig drives the time-series spread sampler.
type SpreadSamplingConfig struct {
	Duration Duration `yaml:"duration" envconfig:"DURATION"`
	Interval Duration `yaml:"interval" envconfig:"INTERVAL"`
	RawGzip  bool     `yaml:"raw_gzip" envconfig:"RAW_GZIP"`
}

// DepthSamplingConfig drives the snapshot-mode depth sampler.
type DepthSamplingConfig struct {
	Duration        Duration `yaml:"duration" envconfig:"DURATION"`
	Interval        Duration `yaml:"interval" envconfig:"INTERVAL"`
	Limit           int      `yaml:"limit" envconfig:"LIMIT" validate:"gt=0,lte=5000"`
	CandidatesLimit int      `yaml:"candidates_limit" envconfig:"CANDIDATES_LIMIT" validate:"gte=0"`
	Workers         int      `yaml:"workers" envconfig:"WORKERS" validate:"gt=0"`
}

// FeesConfig holds the exchange fee schedule in basis points.
type FeesConfig struct {
	MakerBps float64 `yaml:"maker_bps" envconfig:"MAKER_BPS" validate:"gte=0"`
	TakerBps float64 `yaml:"taker_bps" envconfig:"TAKER_BPS" validate:"gte=0"`
}

// ThresholdsConfig holds the pass/fail criteria.
type ThresholdsConfig struct {
	BufferBps  float64                `yaml:"buffer_bps" envconfig:"BUFFER_BPS" validate:"gte=0"`
	UptimeMin  float64                `yaml:"uptime_min" envconfig:"UPTIME_MIN" validate:"gte=0,lte=1"`
	EdgeMinBps float64                `yaml:"edge_min_bps" envconfig:"EDGE_MIN_BPS"`
	Spread     SpreadThresholdsConfig `yaml:"spread" envconfig:"SPREAD"`
	Depth      DepthThresholdsConfig  `yaml:"depth" envconfig:"DEPTH"`
}

// SpreadThresholdsConfig bounds the acceptable spread corridor.
type SpreadThresholdsConfig struct {
	MedianMinBps float64 `yaml:"median_min_bps" envconfig:"MEDIAN_MIN_BPS" validate:"gte=0"`
	MedianMaxBps float64 `yaml:"median_max_bps" envconfig:"MEDIAN_MAX_BPS" validate:"gtefield=MedianMinBps"`
	P90MinBps    float64 `yaml:"p90_min_bps" envconfig:"P90_MIN_BPS" validate:"gte=0"`
	P90MaxBps    float64 `yaml:"p90_max_bps" envconfig:"P90_MAX_BPS" validate:"gtefield=P90MinBps"`
}

// DepthThresholdsConfig bounds acceptable book liquidity. The optional
// band and top-N minimums enable their checks when set.
type DepthThresholdsConfig struct {
	BestLevelMinNotional float64  `yaml:"best_level_min_notional" envconfig:"BEST_LEVEL_MIN_NOTIONAL" validate:"gte=0"`
	UnwindSlippageMaxBps float64  `yaml:"unwind_slippage_max_bps" envconfig:"UNWIND_SLIPPAGE_MAX_BPS" validate:"gte=0"`
	Band10MinNotional    *float64 `yaml:"band_10bps_min_notional" envconfig:"BAND_10BPS_MIN_NOTIONAL"`
	TopNMinNotional      *float64 `yaml:"topn_min_notional" envconfig:"TOPN_MIN_NOTIONAL"`
}

// DepthConfig shapes depth metric computation.
type DepthConfig struct {
	TopNLevels         int     `yaml:"top_n_levels" envconfig:"TOP_N_LEVELS" validate:"gt=0"`
	BandBps            []int   `yaml:"band_bps" envconfig:"BAND_BPS" validate:"dive,gt=0"`
	StressNotionalUSDT float64 `yaml:"stress_notional_usdt" envconfig:"STRESS_NOTIONAL_USDT" validate:"gt=0"`
}

// PipelineConfig controls orchestration behavior.
type PipelineConfig struct {
	FailFast      bool                `yaml:"fail_fast" envconfig:"FAIL_FAST"`
	TotalTimeout  Duration            `yaml:"total_timeout" envconfig:"TOTAL_TIMEOUT"`
	Grace         Duration            `yaml:"grace" envconfig:"GRACE"`
	TimeoutPolicy string              `yaml:"timeout_policy" envconfig:"TIMEOUT_POLICY" validate:"oneof=fail warn"`
	MinTicks      int                 `yaml:"min_ticks" envconfig:"MIN_TICKS" validate:"gte=0"`
	StageTimeouts map[string]Duration `yaml:"stage_timeouts" envconfig:"STAGE_TIMEOUTS"`
}

// ReportConfig shapes report rendering.
type ReportConfig struct {
	TopN int `yaml:"top_n" envconfig:"TOP_N" validate:"gt=0"`
}

// Loaded pairs a validated Config with the raw file bytes so a config
// hash can be recorded for reproducibility.
type Loaded struct {
	Config Config
	Raw    []byte
}

// Hash is the hex SHA-256 of the raw config file.
func (l Loaded) Hash() string {
	sum := sha256.Sum256(l.Raw)
	return hex.EncodeToString(sum[:])
}

// Default returns the configuration used when the file omits a value.
func Default() Config {
	return Config{
		Mexc: MexcConfig{
			BaseURL:     "https://api.mexc.com",
			Timeout:     Duration(10 * time.Second),
			MaxRPS:      5,
			MaxRetries:  4,
			BackoffBase: Duration(500 * time.Millisecond),
			BackoffMax:  Duration(30 * time.Second),
			UserAgent:   "mexscan/1.0",
		},
		Runtime: RuntimeConfig{Timezone: "UTC"},
		Obs: ObsConfig{
			LogLevel: "info",
			LogJSON:  true,
			OpsAddr:  ":8741",
		},
		Universe: UniverseConfig{
			QuoteAsset:             "USDT",
			StatusAllow:            []string{"1", "ENABLED"},
			UseDefaultSymbols:      true,
			MinQuoteVolume24h:      50_000,
			UseQuoteVolumeEstimate: true,
		},
		Sampling: SamplingConfig{
			Spread: SpreadSamplingConfig{
				Duration: Duration(10 * time.Minute),
				Interval: Duration(10 * time.Second),
				RawGzip:  true,
			},
			Depth: DepthSamplingConfig{
				Duration:        Duration(5 * time.Minute),
				Interval:        Duration(30 * time.Second),
				Limit:           50,
				CandidatesLimit: 20,
				Workers:         4,
			},
		},
		Fees: FeesConfig{MakerBps: 0, TakerBps: 5},
		Thresholds: ThresholdsConfig{
			BufferBps:  2,
			UptimeMin:  0.8,
			EdgeMinBps: 1,
			Spread: SpreadThresholdsConfig{
				MedianMinBps: 5,
				MedianMaxBps: 80,
				P90MinBps:    5,
				P90MaxBps:    150,
			},
			Depth: DepthThresholdsConfig{
				BestLevelMinNotional: 200,
				UnwindSlippageMaxBps: 100,
			},
		},
		Depth: DepthConfig{
			TopNLevels:         5,
			BandBps:            []int{10, 25, 50},
			StressNotionalUSDT: 1_000,
		},
		Pipeline: PipelineConfig{
			FailFast:      true,
			TotalTimeout:  Duration(45 * time.Minute),
			Grace:         Duration(30 * time.Second),
			TimeoutPolicy: "warn",
			MinTicks:      3,
		},
		Report: ReportConfig{TopN: 20},
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse builds a validated Config from raw YAML bytes.
func Parse(raw []byte) (*Loaded, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Raw: raw}, nil
}

// Validate checks structural constraints plus the relations the
// validator tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Sampling.Spread.Duration <= 0 || c.Sampling.Spread.Interval <= 0 {
		return fmt.Errorf("validate config: spread sampling duration and interval must be positive")
	}
	if c.Sampling.Depth.Duration <= 0 || c.Sampling.Depth.Interval <= 0 {
		return fmt.Errorf("validate config: depth sampling duration and interval must be positive")
	}
	if c.Mexc.Timeout <= 0 || c.Mexc.BackoffBase <= 0 || c.Mexc.BackoffMax <= 0 {
		return fmt.Errorf("validate config: mexc timeout and backoff bounds must be positive")
	}
	if c.Mexc.BackoffMax < c.Mexc.BackoffBase {
		return fmt.Errorf("validate config: backoff_max must be >= backoff_base")
	}
	for name, timeout := range c.Pipeline.StageTimeouts {
		if timeout <= 0 {
			return fmt.Errorf("validate config: stage timeout for %q must be positive", name)
		}
	}
	return nil
}

// StageTimeout returns the configured timeout for a stage, zero when
// unset.
func (c *Config) StageTimeout(stage string) time.Duration {
	return c.Pipeline.StageTimeouts[stage].D()
}
