package contract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/defectrisk/schema"
)

// Default values for configuration.
const (
	DefaultResultLimit  = 25
	MaxResultLimit      = 1000
	DefaultPrecision    = 3
	DefaultChurnWindow  = "30 days"
	DefaultHorizon      = "90 days"
	DefaultImageShape   = "32x32x2"
	DefaultSnapshots    = 12
	DefaultTrainFrac    = 0.70
	DefaultValFrac      = 0.15
	DefaultEpochs       = 50
	DefaultPatience     = 5
	DefaultMinDelta     = 1e-4
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.01
	DefaultHidden       = "16,16"
	DefaultSeed         = 42
	MaxSnapshots        = 500
)

// DefaultWorkers is the default number of concurrent workers to use.
var DefaultWorkers = runtime.GOMAXPROCS(0)

// DateTimeFormat is the default date time representation.
var DateTimeFormat = time.RFC3339

// DefaultBugfixPatterns flag commit subjects that look like bug fixes.
var DefaultBugfixPatterns = []string{
	`\bfix(es|ed|ing)?\b`,
	`\bbugs?\b`,
	`\bdefects?\b`,
	`\bhotfix(es)?\b`,
	`\bregressions?\b`,
	`\bcrash(es|ed)?\b`,
	`\b(close[sd]?|resolve[sd]?)\s+#\d+`,
	`(^|\s)#\d+\b`,
}

// DefaultBugfixExclusions mark a message as ambiguous even when a bugfix pattern matches.
var DefaultBugfixExclusions = []string{
	`\btypos?\b`,
	`\blint(ing|er)?\b`,
	`\bformat(ting)?\b`,
	`\bdocs?\b`,
	`\bstyle\b`,
	`\bwhitespace\b`,
	`\brefactor(ing|ed)?\b`,
	`\btests? only\b`,
	`^revert\b`,
}

// DefaultExcludes are path filters applied before any history or feature work.
var DefaultExcludes = []string{
	"Cargo.lock", "go.sum", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "composer.lock", "uv.lock",
	".min.js", ".min.css",
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".mp4", ".mov", ".webm", ".mp3", ".ogg", ".pdf", ".webp",
	".zip", ".gz", ".tar", ".jar", ".so", ".dll", ".exe", ".bin",
	".json", ".csv",
	".md", "LICENSE",
	".DS_Store", ".gitignore",
	"vendor/", "node_modules/", "third_party/",
	"dist/", "build/", "out/", "target/", "bin/",
}

// Config holds the runtime configuration for the pipeline.
// This struct is the "final, validated" config.
type Config struct {
	RepoPath   string
	Ref        string
	PathFilter string
	Excludes   []string
	Workers    int

	// Mining
	Since            time.Time
	Until            time.Time
	BugfixPatterns   []string
	BugfixExclusions []string
	MineTimeout      time.Duration

	// Feature windows
	ChurnWindow time.Duration
	Horizon     time.Duration
	ImageShape  schema.ImageShape

	// Splits and sampling
	TrainEnd  time.Time
	ValEnd    time.Time
	TrainFrac float64
	ValFrac   float64
	Imbalance schema.ImbalanceStrategy
	Snapshots int
	Seed      int64

	// Training
	Epochs        int
	Patience      int
	MinDelta      float64
	BatchSize     int
	LearningRate  float64
	HiddenTabular int
	HiddenImage   int
	Device        schema.Device
	FitTimeout    time.Duration
	ModelDir      string

	// Output
	ResultLimit int
	Precision   int
	Output      schema.OutputMode
	OutputFile  string
	Width       int // Terminal width override (0 = auto-detect)
	UseColors   bool
	LogLevel    string

	// Storage
	CacheBackend   schema.DatabaseBackend
	CacheDBConnect string // Please use env var as this is plaintext
	RunsBackend    schema.DatabaseBackend
	RunsDBConnect  string // Please use env var as this is plaintext
	BlobCache      bool
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	// This is set manually from positional args, so no tag
	RepoPathStr string

	// --- Fields from rootCmd.PersistentFlags() ---
	Filter         string `mapstructure:"filter"`
	Exclude        string `mapstructure:"exclude"`
	Workers        int    `mapstructure:"workers"`
	Output         string `mapstructure:"output"`
	OutputFile     string `mapstructure:"output-file"`
	Limit          int    `mapstructure:"limit"`
	Precision      int    `mapstructure:"precision"`
	Width          int    `mapstructure:"width"`
	Color          string `mapstructure:"color"`
	LogLevel       string `mapstructure:"log-level"`
	CacheBackend   string `mapstructure:"cache-backend"`
	CacheDBConnect string `mapstructure:"cache-db-connect"`
	RunsBackend    string `mapstructure:"runs-backend"`
	RunsDBConnect  string `mapstructure:"runs-db-connect"`
	BlobCache      string `mapstructure:"blob-cache"`

	// --- Mining and feature flags ---
	Since            string `mapstructure:"since"`
	Until            string `mapstructure:"until"`
	BugfixPatterns   string `mapstructure:"bugfix-patterns"`
	BugfixExclusions string `mapstructure:"bugfix-exclusions"`
	MineTimeout      string `mapstructure:"mine-timeout"`
	ChurnWindow      string `mapstructure:"churn-window"`
	Horizon          string `mapstructure:"horizon"`
	ImageShape       string `mapstructure:"image-shape"`
	Ref              string `mapstructure:"ref"`

	// --- Dataset flags ---
	TrainEnd  string  `mapstructure:"train-end"`
	ValEnd    string  `mapstructure:"val-end"`
	TrainFrac float64 `mapstructure:"train-frac"`
	ValFrac   float64 `mapstructure:"val-frac"`
	Imbalance string  `mapstructure:"imbalance"`
	Snapshots int     `mapstructure:"snapshots"`
	Seed      int64   `mapstructure:"seed"`

	// --- Training flags ---
	Epochs       int     `mapstructure:"epochs"`
	Patience     int     `mapstructure:"patience"`
	MinDelta     float64 `mapstructure:"min-delta"`
	BatchSize    int     `mapstructure:"batch-size"`
	LearningRate float64 `mapstructure:"learning-rate"`
	Hidden       string  `mapstructure:"hidden"`
	Device       string  `mapstructure:"device"`
	FitTimeout   string  `mapstructure:"fit-timeout"`
	ModelDir     string  `mapstructure:"model-dir"`
}

// Clone returns a deep copy of the Config struct.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Excludes = append([]string(nil), c.Excludes...)
	clone.BugfixPatterns = append([]string(nil), c.BugfixPatterns...)
	clone.BugfixExclusions = append([]string(nil), c.BugfixExclusions...)
	return &clone
}

// ProcessAndValidate performs all complex parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(ctx context.Context, cfg *Config, client GitClient, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := processTimeRange(cfg, input); err != nil {
		return err
	}
	if err := processMiningInputs(cfg, input); err != nil {
		return err
	}
	if err := processWindows(cfg, input); err != nil {
		return err
	}
	if err := processSplitInputs(cfg, input); err != nil {
		return err
	}
	if err := processTrainingInputs(cfg, input); err != nil {
		return err
	}
	if err := resolveGitPathAndFilter(ctx, cfg, client, input); err != nil {
		return err
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = GetModelDir(cfg.RepoPath)
	}
	return nil
}

// ValidateDatabaseConnectionString validates the format of database connection strings
// for MySQL and PostgreSQL backends.
func ValidateDatabaseConnectionString(backend schema.DatabaseBackend, connStr string) error {
	switch backend {
	case schema.SQLiteBackend, schema.NoneBackend:
		return nil
	case schema.MySQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "@tcp(") {
			return fmt.Errorf("MySQL connection string must contain '@tcp(' for host:port specification")
		}
		if !strings.Contains(connStr, "/") {
			return fmt.Errorf("MySQL connection string must contain '/' followed by database name")
		}
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "host=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
		}
		if !strings.Contains(connStr, "dbname=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
		}
	}
	return nil
}

// validateBackendConfigs validates cache and runs backend configurations.
func validateBackendConfigs(cfg *Config, input *ConfigRawInput) error {
	cfg.CacheBackend = schema.DatabaseBackend(strings.ToLower(input.CacheBackend))
	if _, ok := schema.ValidDatabaseBackends[cfg.CacheBackend]; !ok {
		return fmt.Errorf("invalid cache backend '%s'. must be sqlite, mysql, postgresql, none", input.CacheBackend)
	}
	cfg.CacheDBConnect = input.CacheDBConnect
	if err := ValidateDatabaseConnectionString(cfg.CacheBackend, cfg.CacheDBConnect); err != nil {
		return err
	}

	cfg.RunsBackend = schema.DatabaseBackend(strings.ToLower(input.RunsBackend))
	if _, ok := schema.ValidDatabaseBackends[cfg.RunsBackend]; !ok {
		return fmt.Errorf("invalid runs backend '%s'. must be sqlite, mysql, postgresql, none", input.RunsBackend)
	}
	cfg.RunsDBConnect = input.RunsDBConnect
	if err := ValidateDatabaseConnectionString(cfg.RunsBackend, cfg.RunsDBConnect); err != nil {
		return err
	}

	// Validate that cache and runs use different SQLite files
	if cfg.CacheBackend == schema.SQLiteBackend && cfg.RunsBackend == schema.SQLiteBackend {
		cachePath := cfg.CacheDBConnect
		if cachePath == "" {
			cachePath = GetCacheDBFilePath()
		}
		runsPath := cfg.RunsDBConnect
		if runsPath == "" {
			runsPath = GetRunsDBFilePath()
		}
		if cachePath == runsPath {
			return fmt.Errorf("cache and runs storage must use different SQLite database files. Both resolve to %q", cachePath)
		}
	}

	blob, err := ParseBoolString(input.BlobCache)
	if err != nil {
		return fmt.Errorf("invalid --blob-cache value: %w", err)
	}
	cfg.BlobCache = blob
	return nil
}

// validateSimpleInputs processes and validates all non-path related fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.PathFilter = input.Filter
	cfg.OutputFile = input.OutputFile
	cfg.Width = input.Width
	cfg.LogLevel = strings.ToLower(input.LogLevel)
	cfg.Ref = strings.TrimSpace(input.Ref)
	if cfg.Ref == "" {
		cfg.Ref = "HEAD"
	}

	colors, err := ParseBoolString(input.Color)
	if err != nil {
		return fmt.Errorf("invalid --color value: %w", err)
	}
	cfg.UseColors = colors

	if input.Limit <= 0 || input.Limit > MaxResultLimit {
		return fmt.Errorf("limit must be greater than 0 and cannot exceed %d (received %d)", MaxResultLimit, input.Limit)
	}
	cfg.ResultLimit = input.Limit

	if input.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0 (received %d)", input.Workers)
	}
	cfg.Workers = input.Workers

	if input.Precision < 1 || input.Precision > 4 {
		return fmt.Errorf("precision must be between 1 and 4 (received %d)", input.Precision)
	}
	cfg.Precision = input.Precision

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, csv, json, parquet", cfg.Output)
	}

	if err := validateBackendConfigs(cfg, input); err != nil {
		return err
	}

	cfg.Excludes = append([]string(nil), DefaultExcludes...)
	cfg.Excludes = append(cfg.Excludes, SplitCSV(input.Exclude)...)
	return nil
}

// processTimeRange handles the mining window. An empty bound leaves history open on that side.
func processTimeRange(cfg *Config, input *ConfigRawInput) error {
	now := time.Now()

	since, err := ParseTimeInput(input.Since, now)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	until, err := ParseTimeInput(input.Until, now)
	if err != nil {
		return fmt.Errorf("invalid --until: %w", err)
	}
	if !since.IsZero() && !until.IsZero() && since.After(until) {
		return fmt.Errorf("since (%s) cannot be after until (%s)", since.Format(DateTimeFormat), until.Format(DateTimeFormat))
	}
	cfg.Since = since
	cfg.Until = until
	return nil
}

// processMiningInputs compiles the bugfix classifier patterns and the mining budget.
func processMiningInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.BugfixPatterns = DefaultBugfixPatterns
	if p := SplitCSV(input.BugfixPatterns); len(p) > 0 {
		cfg.BugfixPatterns = p
	}
	cfg.BugfixExclusions = DefaultBugfixExclusions
	if p := SplitCSV(input.BugfixExclusions); len(p) > 0 {
		cfg.BugfixExclusions = p
	}
	for _, p := range append(append([]string(nil), cfg.BugfixPatterns...), cfg.BugfixExclusions...) {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("invalid bugfix pattern %q: %w", p, err)
		}
	}

	timeout, err := parseOptionalDuration(input.MineTimeout)
	if err != nil {
		return fmt.Errorf("invalid --mine-timeout: %w", err)
	}
	cfg.MineTimeout = timeout
	return nil
}

// processWindows handles the churn window, label horizon and image shape.
func processWindows(cfg *Config, input *ConfigRawInput) error {
	churn, err := ParseLookbackDuration(input.ChurnWindow)
	if err != nil {
		return fmt.Errorf("invalid --churn-window: %w", err)
	}
	cfg.ChurnWindow = churn

	horizon, err := ParseLookbackDuration(input.Horizon)
	if err != nil {
		return fmt.Errorf("invalid --horizon: %w", err)
	}
	cfg.Horizon = horizon

	shape, err := schema.ParseImageShape(input.ImageShape)
	if err != nil {
		return fmt.Errorf("invalid --image-shape: %w", err)
	}
	cfg.ImageShape = shape
	return nil
}

// processSplitInputs handles the temporal cutoffs, sampling and snapshot count.
func processSplitInputs(cfg *Config, input *ConfigRawInput) error {
	now := time.Now()
	trainEnd, err := ParseTimeInput(input.TrainEnd, now)
	if err != nil {
		return fmt.Errorf("invalid --train-end: %w", err)
	}
	valEnd, err := ParseTimeInput(input.ValEnd, now)
	if err != nil {
		return fmt.Errorf("invalid --val-end: %w", err)
	}
	if trainEnd.IsZero() != valEnd.IsZero() {
		return fmt.Errorf("--train-end and --val-end must be given together")
	}
	if !trainEnd.IsZero() && !trainEnd.Before(valEnd) {
		return fmt.Errorf("train-end (%s) must be before val-end (%s)", trainEnd.Format(DateTimeFormat), valEnd.Format(DateTimeFormat))
	}
	cfg.TrainEnd = trainEnd
	cfg.ValEnd = valEnd

	if input.TrainFrac <= 0 || input.ValFrac <= 0 || input.TrainFrac+input.ValFrac >= 1 {
		return fmt.Errorf("train-frac and val-frac must be positive and sum below 1 (received %.2f, %.2f)", input.TrainFrac, input.ValFrac)
	}
	cfg.TrainFrac = input.TrainFrac
	cfg.ValFrac = input.ValFrac

	cfg.Imbalance = schema.ImbalanceStrategy(strings.ToLower(input.Imbalance))
	if _, ok := schema.ValidImbalanceStrategies[cfg.Imbalance]; !ok {
		return fmt.Errorf("invalid imbalance strategy '%s'. must be none, class_weight, oversample, undersample", input.Imbalance)
	}

	if input.Snapshots < 3 || input.Snapshots > MaxSnapshots {
		return fmt.Errorf("snapshots must be between 3 and %d (received %d)", MaxSnapshots, input.Snapshots)
	}
	cfg.Snapshots = input.Snapshots
	cfg.Seed = input.Seed
	return nil
}

// processTrainingInputs handles the fit loop parameters.
func processTrainingInputs(cfg *Config, input *ConfigRawInput) error {
	if input.Epochs <= 0 {
		return fmt.Errorf("epochs must be greater than 0 (received %d)", input.Epochs)
	}
	if input.Patience <= 0 {
		return fmt.Errorf("patience must be greater than 0 (received %d)", input.Patience)
	}
	if input.MinDelta < 0 {
		return fmt.Errorf("min-delta cannot be negative (received %g)", input.MinDelta)
	}
	if input.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0 (received %d)", input.BatchSize)
	}
	if input.LearningRate <= 0 {
		return fmt.Errorf("learning-rate must be greater than 0 (received %g)", input.LearningRate)
	}
	cfg.Epochs = input.Epochs
	cfg.Patience = input.Patience
	cfg.MinDelta = input.MinDelta
	cfg.BatchSize = input.BatchSize
	cfg.LearningRate = input.LearningRate

	tab, img, err := parseHidden(input.Hidden)
	if err != nil {
		return err
	}
	cfg.HiddenTabular = tab
	cfg.HiddenImage = img

	cfg.Device = schema.Device(strings.ToLower(input.Device))
	if _, ok := schema.ValidDevices[cfg.Device]; !ok {
		return fmt.Errorf("invalid device '%s'. must be cpu, gpu", input.Device)
	}

	timeout, err := parseOptionalDuration(input.FitTimeout)
	if err != nil {
		return fmt.Errorf("invalid --fit-timeout: %w", err)
	}
	cfg.FitTimeout = timeout
	cfg.ModelDir = input.ModelDir
	return nil
}

// parseHidden parses "T,I" into the tabular and image branch widths.
// A single value applies to both branches.
func parseHidden(s string) (int, int, error) {
	parts := SplitCSV(s)
	if len(parts) == 0 || len(parts) > 2 {
		return 0, 0, fmt.Errorf("invalid --hidden %q. Expected 'N' or 'TAB,IMG'", s)
	}
	sizes := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid --hidden size %q. must be a positive integer", p)
		}
		sizes[i] = n
	}
	if len(sizes) == 1 {
		return sizes[0], sizes[0], nil
	}
	return sizes[0], sizes[1], nil
}

// parseOptionalDuration returns zero for an empty budget.
func parseOptionalDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" || s == "0" {
		return 0, nil
	}
	return ParseLookbackDuration(s)
}

// resolveGitPathAndFilter resolves the Git repository path and set the implicit path filter.
func resolveGitPathAndFilter(ctx context.Context, cfg *Config, client GitClient, input *ConfigRawInput) error {
	searchPath := input.RepoPathStr
	if searchPath == "" {
		searchPath = "."
	}
	absSearchPath, err := filepath.Abs(searchPath)
	if err != nil {
		return err
	}
	absSearchPath = filepath.Clean(absSearchPath)

	info, statErr := os.Stat(absSearchPath)
	gitContextPath := absSearchPath
	if statErr == nil && !info.IsDir() {
		gitContextPath = filepath.Dir(absSearchPath)
	}

	gitRoot, err := client.GetRepoRoot(ctx, gitContextPath)
	if err != nil {
		return &schema.RepositoryAccessError{Repo: gitContextPath, Err: err}
	}

	cfg.RepoPath = gitRoot

	if cfg.PathFilter != "" { // User-provided --filter flag takes precedence
		return nil
	}

	if absSearchPath != gitRoot {
		relativePath, err := filepath.Rel(gitRoot, absSearchPath)
		if err != nil {
			return err
		}
		if relativePath != "." {
			filter := relativePath
			if statErr == nil && info.IsDir() {
				filter += "/"
			}
			cfg.PathFilter = filepath.ToSlash(filter)
		}
	}
	return nil
}
