// Package config loads the backtester's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/scranton_straddle/internal/backtest"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/strategy"
)

const (
	// defaultTimezone is the exchange timezone for index options
	defaultTimezone = "Asia/Kolkata"
	// istOffset is used when the tz database is missing from the container
	istOffset = 5*60*60 + 30*60
)

// Data providers
const (
	ProviderCSV       = "csv"
	ProviderSynthetic = "synthetic"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Data        DataConfig        `yaml:"data"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Costs       CostsConfig       `yaml:"costs"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Output      OutputConfig      `yaml:"output"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// DataConfig selects and tunes the market data provider.
type DataConfig struct {
	Provider       string               `yaml:"provider"` // csv | synthetic
	Dir            string               `yaml:"dir"`
	Interval       string               `yaml:"interval"`
	AnnualVol      float64              `yaml:"annual_vol"` // synthetic only
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig mirrors provider.RetryConfig with string durations.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	Timeout        string `yaml:"timeout"`
}

// CircuitBreakerConfig mirrors provider.CircuitBreakerSettings.
type CircuitBreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// StrategyConfig defines the straddle's entry and exit parameters.
type StrategyConfig struct {
	Symbol          string   `yaml:"symbol"`
	Index           string   `yaml:"index"`
	EntryTime       string   `yaml:"entry_time"`
	ExitTime        string   `yaml:"exit_time"`
	LotSize         int      `yaml:"lot_size"`
	LotMultiplier   int      `yaml:"lot_multiplier"`
	StopLossPct     float64  `yaml:"stop_loss_pct"`
	TargetProfitPct *float64 `yaml:"target_profit_pct"` // null disables take-profit
	PerLeg          bool     `yaml:"per_leg"`
}

// RiskConfig defines the re-entry and daily loss limits.
type RiskConfig struct {
	MaxReentries        int     `yaml:"max_reentries"`
	ReentryDelayMinutes float64 `yaml:"reentry_delay_minutes"`
	MaxLossPerDay       float64 `yaml:"max_loss_per_day"`
}

// CostsConfig defines transaction costs.
type CostsConfig struct {
	CommissionPerLot float64 `yaml:"commission_per_lot"`
	SlippagePoints   float64 `yaml:"slippage_points"`
}

// ScheduleConfig lists the sessions to backtest.
type ScheduleConfig struct {
	Timezone string             `yaml:"timezone"`
	Sessions []backtest.Session `yaml:"sessions"`
}

// OutputConfig defines where exports and the run journal are written.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	JournalPath string `yaml:"journal_path"`
}

// BacktestConfig tunes a single run.
type BacktestConfig struct {
	Workers int `yaml:"workers"`
}

// SweepConfig lists candidate values per parameter; an empty list keeps
// the strategy value.
type SweepConfig struct {
	StopLossPct         []float64  `yaml:"stop_loss_pct"`
	TargetProfitPct     []*float64 `yaml:"target_profit_pct"`
	MaxReentries        []int      `yaml:"max_reentries"`
	ReentryDelayMinutes []float64  `yaml:"reentry_delay_minutes"`
	MaxLossPerDay       []float64  `yaml:"max_loss_per_day"`
	Workers             int        `yaml:"workers"`
}

// DashboardConfig defines the results API server.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns the configuration used for any key the file omits.
func Default() Config {
	s := strategy.DefaultConfig()
	return Config{
		Environment: EnvironmentConfig{LogLevel: "info"},
		Data: DataConfig{
			Provider:  ProviderCSV,
			Dir:       "data",
			Interval:  s.Interval,
			AnnualVol: 0.14,
			Retry: RetryConfig{
				MaxRetries:     provider.DefaultRetryConfig.MaxRetries,
				InitialBackoff: provider.DefaultRetryConfig.InitialBackoff.String(),
				MaxBackoff:     provider.DefaultRetryConfig.MaxBackoff.String(),
				Timeout:        provider.DefaultRetryConfig.Timeout.String(),
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:  provider.DefaultCircuitBreakerSettings.MaxRequests,
				Interval:     provider.DefaultCircuitBreakerSettings.Interval.String(),
				Timeout:      provider.DefaultCircuitBreakerSettings.Timeout.String(),
				MinRequests:  provider.DefaultCircuitBreakerSettings.MinRequests,
				FailureRatio: provider.DefaultCircuitBreakerSettings.FailureRatio,
			},
		},
		Strategy: StrategyConfig{
			Symbol:        s.Symbol,
			Index:         string(s.Index),
			EntryTime:     s.EntryTime.String(),
			ExitTime:      s.ExitTime.String(),
			LotSize:       s.LotSize,
			LotMultiplier: s.LotMultiplier,
			StopLossPct:   s.StopLossPct,
			PerLeg:        s.Mode == strategy.ModePerLeg,
		},
		Risk: RiskConfig{
			MaxReentries:        s.MaxReentries,
			ReentryDelayMinutes: s.ReentryDelay.Minutes(),
			MaxLossPerDay:       s.MaxDailyLoss,
		},
		Costs: CostsConfig{
			CommissionPerLot: s.CommissionPerLot,
			SlippagePoints:   s.SlippagePoints,
		},
		Schedule:  ScheduleConfig{Timezone: defaultTimezone},
		Output:    OutputConfig{Dir: "results", JournalPath: "results/journal.db"},
		Backtest:  BacktestConfig{Workers: 4},
		Sweep:     SweepConfig{Workers: 2},
		Dashboard: DashboardConfig{Port: 8080},
	}
}

// Load reads and parses the configuration file from the specified path.
// Keys missing from the file keep their Default value.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}

	// Data validation
	switch c.Data.Provider {
	case ProviderCSV:
		if strings.TrimSpace(c.Data.Dir) == "" {
			return fmt.Errorf("data.dir is required for the csv provider")
		}
	case ProviderSynthetic:
		if c.Data.AnnualVol <= 0 {
			return fmt.Errorf("data.annual_vol must be > 0")
		}
	default:
		return fmt.Errorf("data.provider must be 'csv' or 'synthetic'")
	}
	if strings.TrimSpace(c.Data.Interval) == "" {
		return fmt.Errorf("data.interval is required")
	}
	if c.Data.Retry.MaxRetries < 0 {
		return fmt.Errorf("data.retry.max_retries must be >= 0")
	}
	if _, err := c.RetryConfig(); err != nil {
		return err
	}
	if _, err := c.CircuitBreakerSettings(); err != nil {
		return err
	}
	if r := c.Data.CircuitBreaker.FailureRatio; r <= 0 || r > 1 {
		return fmt.Errorf("data.circuit_breaker.failure_ratio must be in (0,1]")
	}

	// Strategy validation
	sc, err := c.StrategyConfig()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	// Schedule validation
	if c.Schedule.Timezone != defaultTimezone {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone invalid: %w", err)
		}
	}
	seen := make(map[string]int, len(c.Schedule.Sessions))
	for i, s := range c.Schedule.Sessions {
		if err := validateSession(s); err != nil {
			return fmt.Errorf("schedule.sessions[%d]: %w", i, err)
		}
		if prev, ok := seen[s.Date]; ok {
			return fmt.Errorf("schedule.sessions[%d]: date %s duplicates schedule.sessions[%d]", i, s.Date, prev)
		}
		seen[s.Date] = i
	}

	if c.Backtest.Workers < 1 {
		return fmt.Errorf("backtest.workers must be >= 1")
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep.workers must be >= 1")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}

	return nil
}

func validateSession(s backtest.Session) error {
	date, err := time.Parse(provider.DateLayout, s.Date)
	if err != nil {
		return fmt.Errorf("date %q must be YYYY-MM-DD", s.Date)
	}
	expiry, err := time.Parse(provider.DateLayout, s.Expiry)
	if err != nil {
		return fmt.Errorf("expiry %q must be YYYY-MM-DD", s.Expiry)
	}
	if expiry.Before(date) {
		return fmt.Errorf("expiry %s is before trading date %s", s.Expiry, s.Date)
	}
	return nil
}

// StrategyConfig builds the immutable strategy parameters from the
// strategy, risk and costs sections.
func (c *Config) StrategyConfig() (strategy.Config, error) {
	entry, err := strategy.ParseClock(c.Strategy.EntryTime)
	if err != nil {
		return strategy.Config{}, fmt.Errorf("strategy.entry_time: %w", err)
	}
	exit, err := strategy.ParseClock(c.Strategy.ExitTime)
	if err != nil {
		return strategy.Config{}, fmt.Errorf("strategy.exit_time: %w", err)
	}

	index := strategy.InstrumentClass(strings.ToUpper(strings.TrimSpace(c.Strategy.Index)))
	if index == "" {
		index = strategy.InstrumentClass(strings.ToUpper(c.Strategy.Symbol))
	}
	mode := strategy.ModeCombined
	if c.Strategy.PerLeg {
		mode = strategy.ModePerLeg
	}

	sc := strategy.Config{
		Symbol:           c.Strategy.Symbol,
		Index:            index,
		EntryTime:        entry,
		ExitTime:         exit,
		LotSize:          c.Strategy.LotSize,
		LotMultiplier:    c.Strategy.LotMultiplier,
		StopLossPct:      c.Strategy.StopLossPct,
		Mode:             mode,
		MaxReentries:     c.Risk.MaxReentries,
		ReentryDelay:     minutes(c.Risk.ReentryDelayMinutes),
		MaxDailyLoss:     c.Risk.MaxLossPerDay,
		CommissionPerLot: c.Costs.CommissionPerLot,
		SlippagePoints:   c.Costs.SlippagePoints,
		Interval:         c.Data.Interval,
	}
	if c.Strategy.TargetProfitPct != nil {
		tp := *c.Strategy.TargetProfitPct
		sc.TakeProfitPct = &tp
	}
	return sc, nil
}

// Location returns the schedule timezone. Asia/Kolkata falls back to a
// fixed +05:30 zone on hosts without tz data.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if tz == defaultTimezone {
			return time.FixedZone("IST", istOffset), nil
		}
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Sessions returns a copy of the configured sessions.
func (c *Config) Sessions() []backtest.Session {
	return append([]backtest.Session(nil), c.Schedule.Sessions...)
}

// SweepGrid converts the sweep lists to a backtest grid.
func (c *Config) SweepGrid() backtest.SweepGrid {
	grid := backtest.SweepGrid{
		StopLossPct:  append([]float64(nil), c.Sweep.StopLossPct...),
		MaxReentries: append([]int(nil), c.Sweep.MaxReentries...),
		MaxDailyLoss: append([]float64(nil), c.Sweep.MaxLossPerDay...),
	}
	for _, tp := range c.Sweep.TargetProfitPct {
		if tp == nil {
			grid.TakeProfitPct = append(grid.TakeProfitPct, nil)
			continue
		}
		v := *tp
		grid.TakeProfitPct = append(grid.TakeProfitPct, &v)
	}
	for _, m := range c.Sweep.ReentryDelayMinutes {
		grid.ReentryDelay = append(grid.ReentryDelay, minutes(m))
	}
	return grid
}

// RetryConfig parses the data.retry section.
func (c *Config) RetryConfig() (provider.RetryConfig, error) {
	r := c.Data.Retry
	initial, err := time.ParseDuration(r.InitialBackoff)
	if err != nil {
		return provider.RetryConfig{}, fmt.Errorf("data.retry.initial_backoff invalid: %w", err)
	}
	maxBackoff, err := time.ParseDuration(r.MaxBackoff)
	if err != nil {
		return provider.RetryConfig{}, fmt.Errorf("data.retry.max_backoff invalid: %w", err)
	}
	timeout, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return provider.RetryConfig{}, fmt.Errorf("data.retry.timeout invalid: %w", err)
	}
	if initial <= 0 || maxBackoff < initial {
		return provider.RetryConfig{}, fmt.Errorf("data.retry backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if timeout <= 0 {
		return provider.RetryConfig{}, fmt.Errorf("data.retry.timeout must be > 0")
	}
	return provider.RetryConfig{
		MaxRetries:     r.MaxRetries,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
		Timeout:        timeout,
	}, nil
}

// CircuitBreakerSettings parses the data.circuit_breaker section.
func (c *Config) CircuitBreakerSettings() (provider.CircuitBreakerSettings, error) {
	cb := c.Data.CircuitBreaker
	interval, err := time.ParseDuration(cb.Interval)
	if err != nil {
		return provider.CircuitBreakerSettings{}, fmt.Errorf("data.circuit_breaker.interval invalid: %w", err)
	}
	timeout, err := time.ParseDuration(cb.Timeout)
	if err != nil {
		return provider.CircuitBreakerSettings{}, fmt.Errorf("data.circuit_breaker.timeout invalid: %w", err)
	}
	return provider.CircuitBreakerSettings{
		MaxRequests:  cb.MaxRequests,
		Interval:     interval,
		Timeout:      timeout,
		MinRequests:  cb.MinRequests,
		FailureRatio: cb.FailureRatio,
	}, nil
}

// LogLevel returns the parsed environment.log_level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
