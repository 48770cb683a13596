package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	AI        AIConfig        `toml:"ai"`
	Budget    BudgetConfig    `toml:"budget"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Extractor ExtractorConfig `toml:"extractor"`
	Dedup     DedupConfig     `toml:"dedup"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Retention RetentionConfig `toml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AIConfig holds LLM provider, pricing and batching settings.
type AIConfig struct {
	Provider           string  `toml:"provider"`
	APIKey             string  `toml:"api_key"`
	Model              string  `toml:"model"`
	BaseURL            string  `toml:"base_url"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	MaxTokens          int     `toml:"max_tokens"`
	Temperature        float64 `toml:"temperature"`
	InputCostPer1K     float64 `toml:"input_cost_per_1k"`
	OutputCostPer1K    float64 `toml:"output_cost_per_1k"`
	BatchSize          int     `toml:"batch_size"`
	ClassifyLimit      int     `toml:"classify_limit"`
	MaxBodyChars       int     `toml:"max_body_chars"`
	ReviewThreshold    float64 `toml:"review_threshold"`
	MaxRetries         int     `toml:"max_retries"`
	RetryDelaySeconds  int     `toml:"retry_delay_seconds"`
	BatchDelayMs       int     `toml:"batch_delay_ms"`
	MaxArticleAttempts int     `toml:"max_article_attempts"`
}

// BudgetConfig holds LLM spending limits.
type BudgetConfig struct {
	DailyUSD         float64 `toml:"daily_usd"`
	MonthlyUSD       float64 `toml:"monthly_usd"`
	MinContentLength int     `toml:"min_content_length"`
	SkipPaywalled    bool    `toml:"skip_paywalled"`
	BatchFraction    float64 `toml:"batch_fraction"`
}

// FeedsConfig holds feed polling settings.
type FeedsConfig struct {
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxAttempts        int    `toml:"max_attempts"`
	RetryDelaySeconds  int    `toml:"retry_delay_seconds"`
	Concurrency        int    `toml:"concurrency"`
	BatchDelaySeconds  int    `toml:"batch_delay_seconds"`
	MaxItemsPerFeed    int    `toml:"max_items_per_feed"`
	UnhealthyThreshold int    `toml:"unhealthy_threshold"`
	HostIntervalMs     int    `toml:"host_interval_ms"`
	UserAgent          string `toml:"user_agent"`
	SourcesFile        string `toml:"sources_file"`
}

// ExtractorConfig holds article page fetching settings.
type ExtractorConfig struct {
	TimeoutSeconds    int `toml:"timeout_seconds"`
	MaxAttempts       int `toml:"max_attempts"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
	Concurrency       int `toml:"concurrency"`
	BatchDelayMs      int `toml:"batch_delay_ms"`
	BatchLimit        int `toml:"batch_limit"`
	MinContentLength  int `toml:"min_content_length"`
}

// DedupConfig holds duplicate detection settings.
type DedupConfig struct {
	CacheRefreshHours int `toml:"cache_refresh_hours"`
	WindowHours       int `toml:"window_hours"`
	CacheSize         int `toml:"cache_size"`
	SweepLimit        int `toml:"sweep_limit"`
}

// SchedulerConfig holds cron specs and timeouts of the periodic jobs.
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	QuickIngest          string `toml:"quick_ingest"`
	FullPipeline         string `toml:"full_pipeline"`
	Classify             string `toml:"classify"`
	DedupSweep           string `toml:"dedup_sweep"`
	Cleanup              string `toml:"cleanup"`
	CostSnapshot         string `toml:"cost_snapshot"`
	JobRetries           int    `toml:"job_retries"`
	JobRetryDelaySeconds int    `toml:"job_retry_delay_seconds"`

	QuickIngestTimeoutMinutes  int `toml:"quick_ingest_timeout_minutes"`
	FullPipelineTimeoutMinutes int `toml:"full_pipeline_timeout_minutes"`
	ClassifyTimeoutMinutes     int `toml:"classify_timeout_minutes"`
	DedupSweepTimeoutMinutes   int `toml:"dedup_sweep_timeout_minutes"`
	CleanupTimeoutMinutes      int `toml:"cleanup_timeout_minutes"`
	CostSnapshotTimeoutMinutes int `toml:"cost_snapshot_timeout_minutes"`
}

// RetentionConfig holds how long finished records are kept.
type RetentionConfig struct {
	DuplicateDays int `toml:"duplicate_days"`
	FailedDays    int `toml:"failed_days"`
	RunsDays      int `toml:"runs_days"`
}

const defaultConfigContent = `[server]
host = "localhost"
port = 8080

[log]
level = "info"                    # debug, info, warn, error
format = "text"                   # text or json

[ai]
provider = "anthropic"            # "anthropic" or "openai"
api_key = ""                      # Your API key (or set AI_API_KEY env var)
model = "claude-haiku-4-5"
timeout_seconds = 60
max_tokens = 4096
temperature = 0.2
input_cost_per_1k = 0.001         # USD per 1000 prompt tokens
output_cost_per_1k = 0.005        # USD per 1000 completion tokens
batch_size = 10
max_body_chars = 2000
review_threshold = 0.6
max_retries = 3
retry_delay_seconds = 5
batch_delay_ms = 1000
max_article_attempts = 3

[budget]
daily_usd = 5.0
monthly_usd = 100.0
min_content_length = 200
skip_paywalled = true
batch_fraction = 0.1

[feeds]
timeout_seconds = 30
max_attempts = 3
retry_delay_seconds = 5
concurrency = 5
batch_delay_seconds = 2
max_items_per_feed = 50
unhealthy_threshold = 5
sources_file = ""                 # optional YAML list of sources to seed

[extractor]
timeout_seconds = 20
max_attempts = 3
retry_delay_seconds = 2
concurrency = 3
batch_delay_ms = 500
batch_limit = 50
min_content_length = 200

[dedup]
cache_refresh_hours = 24
window_hours = 72
cache_size = 30000

[scheduler]
enabled = true
quick_ingest = "*/2 * * * *"
full_pipeline = "0 */6 * * *"
classify = "15 */2 * * *"
dedup_sweep = "30 3 * * *"
cleanup = "0 4 * * 0"
cost_snapshot = "*/5 * * * *"         # any job can be switched off with "off"
job_retries = 2
job_retry_delay_seconds = 30

[retention]
duplicate_days = 7
failed_days = 30
runs_days = 30
`

// Load reads and parses the TOML config from the given path. If the file does
// not exist, it creates a default config file at that path. Environment
// variables override values from the file with highest priority.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		slog.Info("created default config file", "path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Validate explicitly-set values before applying defaults, so that
	// explicitly writing "port = 0" is an error rather than silently
	// being replaced with the default.
	if err := validateExplicit(&cfg, md); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(&cfg, md)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// createDefault writes the default config content to the given path,
// creating any parent directories as needed.
func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// validateExplicit checks values that were explicitly set in the TOML file.
// This catches cases like "port = 0" which would otherwise be silently
// replaced by the default value.
func validateExplicit(cfg *Config, md toml.MetaData) error {
	if md.IsDefined("server", "port") {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", cfg.Server.Port)
		}
	}

	positive := []struct {
		key   []string
		value float64
	}{
		{[]string{"ai", "batch_size"}, float64(cfg.AI.BatchSize)},
		{[]string{"ai", "max_tokens"}, float64(cfg.AI.MaxTokens)},
		{[]string{"ai", "review_threshold"}, cfg.AI.ReviewThreshold},
		{[]string{"budget", "daily_usd"}, cfg.Budget.DailyUSD},
		{[]string{"budget", "monthly_usd"}, cfg.Budget.MonthlyUSD},
		{[]string{"budget", "batch_fraction"}, cfg.Budget.BatchFraction},
		{[]string{"feeds", "timeout_seconds"}, float64(cfg.Feeds.TimeoutSeconds)},
		{[]string{"feeds", "concurrency"}, float64(cfg.Feeds.Concurrency)},
		{[]string{"feeds", "unhealthy_threshold"}, float64(cfg.Feeds.UnhealthyThreshold)},
		{[]string{"extractor", "timeout_seconds"}, float64(cfg.Extractor.TimeoutSeconds)},
		{[]string{"extractor", "concurrency"}, float64(cfg.Extractor.Concurrency)},
		{[]string{"dedup", "window_hours"}, float64(cfg.Dedup.WindowHours)},
		{[]string{"dedup", "cache_size"}, float64(cfg.Dedup.CacheSize)},
		{[]string{"retention", "duplicate_days"}, float64(cfg.Retention.DuplicateDays)},
		{[]string{"retention", "failed_days"}, float64(cfg.Retention.FailedDays)},
		{[]string{"retention", "runs_days"}, float64(cfg.Retention.RunsDays)},
	}
	for _, p := range positive {
		if md.IsDefined(p.key...) && p.value <= 0 {
			return fmt.Errorf("invalid %s %v: must be > 0", strings.Join(p.key, "."), p.value)
		}
	}
	return nil
}

// applyDefaults sets default values for any zero-valued fields. Booleans
// default to true only when the file does not mention them.
func applyDefaults(cfg *Config, md toml.MetaData) {
	setString(&cfg.Server.Host, "localhost")
	setInt(&cfg.Server.Port, 8080)

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "text")

	setString(&cfg.AI.Provider, "anthropic")
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	setInt(&cfg.AI.TimeoutSeconds, 60)
	setInt(&cfg.AI.MaxTokens, 4096)
	if !md.IsDefined("ai", "temperature") {
		cfg.AI.Temperature = 0.2
	}
	setFloat(&cfg.AI.InputCostPer1K, 0.001)
	setFloat(&cfg.AI.OutputCostPer1K, 0.005)
	setInt(&cfg.AI.BatchSize, 10)
	setInt(&cfg.AI.ClassifyLimit, 100)
	setInt(&cfg.AI.MaxBodyChars, 2000)
	setFloat(&cfg.AI.ReviewThreshold, 0.6)
	setInt(&cfg.AI.MaxRetries, 3)
	setInt(&cfg.AI.RetryDelaySeconds, 5)
	setInt(&cfg.AI.BatchDelayMs, 1000)
	setInt(&cfg.AI.MaxArticleAttempts, 3)

	setFloat(&cfg.Budget.DailyUSD, 5)
	setFloat(&cfg.Budget.MonthlyUSD, 100)
	setInt(&cfg.Budget.MinContentLength, 200)
	if !md.IsDefined("budget", "skip_paywalled") {
		cfg.Budget.SkipPaywalled = true
	}
	setFloat(&cfg.Budget.BatchFraction, 0.1)

	setInt(&cfg.Feeds.TimeoutSeconds, 30)
	setInt(&cfg.Feeds.MaxAttempts, 3)
	setInt(&cfg.Feeds.RetryDelaySeconds, 5)
	setInt(&cfg.Feeds.Concurrency, 5)
	setInt(&cfg.Feeds.BatchDelaySeconds, 2)
	setInt(&cfg.Feeds.MaxItemsPerFeed, 50)
	setInt(&cfg.Feeds.UnhealthyThreshold, 5)
	setInt(&cfg.Feeds.HostIntervalMs, 250)

	setInt(&cfg.Extractor.TimeoutSeconds, 20)
	setInt(&cfg.Extractor.MaxAttempts, 3)
	setInt(&cfg.Extractor.RetryDelaySeconds, 2)
	setInt(&cfg.Extractor.Concurrency, 3)
	setInt(&cfg.Extractor.BatchDelayMs, 500)
	setInt(&cfg.Extractor.BatchLimit, 50)
	setInt(&cfg.Extractor.MinContentLength, 200)

	setInt(&cfg.Dedup.CacheRefreshHours, 24)
	setInt(&cfg.Dedup.WindowHours, 72)
	setInt(&cfg.Dedup.CacheSize, 30000)
	setInt(&cfg.Dedup.SweepLimit, 1000)

	if !md.IsDefined("scheduler", "enabled") {
		cfg.Scheduler.Enabled = true
	}
	s := &cfg.Scheduler
	setString(&s.QuickIngest, "*/2 * * * *")
	setString(&s.FullPipeline, "0 */6 * * *")
	setString(&s.Classify, "15 */2 * * *")
	setString(&s.DedupSweep, "30 3 * * *")
	setString(&s.Cleanup, "0 4 * * 0")
	setString(&s.CostSnapshot, "*/5 * * * *")
	if !md.IsDefined("scheduler", "job_retries") {
		s.JobRetries = 2
	}
	setInt(&s.JobRetryDelaySeconds, 30)
	setInt(&s.QuickIngestTimeoutMinutes, 5)
	setInt(&s.FullPipelineTimeoutMinutes, 60)
	setInt(&s.ClassifyTimeoutMinutes, 30)
	setInt(&s.DedupSweepTimeoutMinutes, 15)
	setInt(&s.CleanupTimeoutMinutes, 15)
	setInt(&s.CostSnapshotTimeoutMinutes, 1)

	setInt(&cfg.Retention.DuplicateDays, 7)
	setInt(&cfg.Retention.FailedDays, 30)
	setInt(&cfg.Retention.RunsDays, 30)
}

func defaultModel(provider string) string {
	if provider == "openai" {
		return "gpt-4o-mini"
	}
	return "claude-haiku-4-5"
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables take highest priority over config file values.
//
// Priority for ai.api_key:
//  1. AI_API_KEY (generic, highest)
//  2. ANTHROPIC_API_KEY (when provider is "anthropic")
//  3. OPENAI_API_KEY (when provider is "openai")
func applyEnvOverrides(cfg *Config) error {
	// Apply provider-specific env var first (lower priority).
	switch cfg.AI.Provider {
	case "anthropic":
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.AI.APIKey = v
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.AI.APIKey = v
		}
	}

	// AI_API_KEY overrides everything (highest priority).
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("AUTOPULSE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("AUTOPULSE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTOPULSE_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	for name, dst := range map[string]*float64{
		"AUTOPULSE_DAILY_BUDGET_USD":   &cfg.Budget.DailyUSD,
		"AUTOPULSE_MONTHLY_BUDGET_USD": &cfg.Budget.MonthlyUSD,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s %q: %w", name, v, err)
		}
		*dst = f
	}
	return nil
}

// validate checks that configuration values are within acceptable ranges.
func validate(cfg *Config) error {
	switch cfg.AI.Provider {
	case "anthropic", "openai":
		// valid
	default:
		return fmt.Errorf("invalid ai.provider %q: must be \"anthropic\" or \"openai\"", cfg.AI.Provider)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", cfg.Server.Port)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: must be \"text\" or \"json\"", cfg.Log.Format)
	}

	if cfg.AI.ReviewThreshold <= 0 || cfg.AI.ReviewThreshold > 1 {
		return fmt.Errorf("invalid ai.review_threshold %v: must be in (0, 1]", cfg.AI.ReviewThreshold)
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return fmt.Errorf("invalid ai.temperature %v: must be in [0, 2]", cfg.AI.Temperature)
	}
	if cfg.Budget.BatchFraction > 1 {
		return fmt.Errorf("invalid budget.batch_fraction %v: must be in (0, 1]", cfg.Budget.BatchFraction)
	}
	if cfg.Budget.DailyUSD <= 0 || cfg.Budget.MonthlyUSD <= 0 {
		return fmt.Errorf("invalid budget: daily_usd and monthly_usd must be > 0")
	}
	if cfg.Budget.MonthlyUSD < cfg.Budget.DailyUSD {
		return fmt.Errorf("invalid budget.monthly_usd %v: must be >= daily_usd %v",
			cfg.Budget.MonthlyUSD, cfg.Budget.DailyUSD)
	}

	if err := validateSchedules(&cfg.Scheduler); err != nil {
		return err
	}
	if err := validateTimeouts(cfg); err != nil {
		return err
	}

	if cfg.AI.APIKey == "" {
		slog.Warn("ai.api_key is empty: classification is disabled until it is set in the config file or via AI_API_KEY")
	}

	return nil
}

func validateSchedules(s *SchedulerConfig) error {
	specs := map[string]string{
		"quick_ingest":  s.QuickIngest,
		"full_pipeline": s.FullPipeline,
		"classify":      s.Classify,
		"dedup_sweep":   s.DedupSweep,
		"cleanup":       s.Cleanup,
		"cost_snapshot": s.CostSnapshot,
	}
	for name, spec := range specs {
		if spec == "off" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid scheduler.%s %q: %w", name, spec, err)
		}
	}
	return nil
}

// validateTimeouts checks that every outbound request gives up well before
// the job that issued it is abandoned.
func validateTimeouts(cfg *Config) error {
	checks := []struct {
		request string
		reqDur  time.Duration
		job     string
		jobDur  time.Duration
	}{
		{"feeds.timeout_seconds", cfg.FeedsTimeout(), "quick_ingest", cfg.JobTimeout(JobQuickIngest)},
		{"feeds.timeout_seconds", cfg.FeedsTimeout(), "full_pipeline", cfg.JobTimeout(JobFullPipeline)},
		{"extractor.timeout_seconds", cfg.ExtractorTimeout(), "full_pipeline", cfg.JobTimeout(JobFullPipeline)},
		{"ai.timeout_seconds", cfg.AITimeout(), "classify", cfg.JobTimeout(JobClassify)},
		{"ai.timeout_seconds", cfg.AITimeout(), "full_pipeline", cfg.JobTimeout(JobFullPipeline)},
	}
	for _, c := range checks {
		if c.reqDur >= c.jobDur {
			return fmt.Errorf("invalid %s (%s): must be shorter than the %s job timeout (%s)",
				c.request, c.reqDur, c.job, c.jobDur)
		}
	}
	return nil
}

// Job names.
const (
	JobQuickIngest  = "quick-ingest"
	JobFullPipeline = "full-pipeline"
	JobClassify     = "classify"
	JobDedupSweep   = "dedup-sweep"
	JobCleanup      = "cleanup"
	JobCostSnapshot = "cost-snapshot"
)

// JobSpec returns the cron spec of a job, or "" when it is switched off.
func (c *Config) JobSpec(name string) string {
	s := c.Scheduler
	spec := map[string]string{
		JobQuickIngest:  s.QuickIngest,
		JobFullPipeline: s.FullPipeline,
		JobClassify:     s.Classify,
		JobDedupSweep:   s.DedupSweep,
		JobCleanup:      s.Cleanup,
		JobCostSnapshot: s.CostSnapshot,
	}[name]
	if spec == "off" {
		return ""
	}
	return spec
}

// JobTimeout returns the timeout of a job.
func (c *Config) JobTimeout(name string) time.Duration {
	s := c.Scheduler
	minutes := map[string]int{
		JobQuickIngest:  s.QuickIngestTimeoutMinutes,
		JobFullPipeline: s.FullPipelineTimeoutMinutes,
		JobClassify:     s.ClassifyTimeoutMinutes,
		JobDedupSweep:   s.DedupSweepTimeoutMinutes,
		JobCleanup:      s.CleanupTimeoutMinutes,
		JobCostSnapshot: s.CostSnapshotTimeoutMinutes,
	}[name]
	return time.Duration(minutes) * time.Minute
}

// FeedsTimeout is the per-request timeout of feed fetches.
func (c *Config) FeedsTimeout() time.Duration { return seconds(c.Feeds.TimeoutSeconds) }

// ExtractorTimeout is the per-request timeout of article page fetches.
func (c *Config) ExtractorTimeout() time.Duration { return seconds(c.Extractor.TimeoutSeconds) }

// AITimeout is the per-request timeout of LLM calls.
func (c *Config) AITimeout() time.Duration { return seconds(c.AI.TimeoutSeconds) }

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
