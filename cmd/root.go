package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
	"github.com/huangsam/defectrisk/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// All linker flags will be set by goreleaser infra at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCtx is the root context for all operations. Execute replaces it with one
// that is canceled on interrupt.
var rootCtx = context.Background()

// cfg will hold the validated, final configuration.
var cfg = &contract.Config{}

// input holds the raw, unvalidated configuration from all sources (file, env, flags).
// Viper will unmarshal into this struct.
var input = &contract.ConfigRawInput{}

// execCtx carries the git client, stores and logger into the pipeline.
var execCtx *contract.ExecContext

// profilePrefix enables CPU and memory profiling when set.
var profilePrefix string

// startProfiling starts CPU profiling if enabled.
func startProfiling() error {
	if profilePrefix == "" {
		return nil
	}

	cpuFile, err := os.Create(profilePrefix + ".cpu.prof")
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		return fmt.Errorf("could not start CPU profiling: %w", err)
	}

	// Memory profiling will be captured at the end
	_, err = fmt.Fprintf(os.Stderr, "Profiling enabled. CPU profile: %s.cpu.prof, Memory profile: %s.mem.prof\n", profilePrefix, profilePrefix)
	return err
}

// stopProfiling stops profiling and writes memory profile.
func stopProfiling() error {
	if profilePrefix == "" {
		return nil
	}

	pprof.StopCPUProfile()

	memFile, err := os.Create(profilePrefix + ".mem.prof")
	if err != nil {
		return fmt.Errorf("could not create memory profile: %w", err)
	}
	defer func() { _ = memFile.Close() }()

	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}

	_, err = fmt.Fprintf(os.Stderr, "Profiling complete. Use 'go tool pprof %s.cpu.prof' to analyze.\n", profilePrefix)
	return err
}

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:                "defectrisk",
	Short:              "Predict which files in a Git repository are likely to need a bug fix.",
	Long:               `Defectrisk mines Git history for bug-fix commits, learns from file churn and content, and ranks files by the probability of a near-term defect.`,
	Version:            version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	DisableSuggestions: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setConfigFile()

	// Set environment variable prefix
	viper.SetEnvPrefix("DEFECTRISK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // Read in environment variables that match

	// Set defaults in Viper
	viper.SetDefault("limit", contract.DefaultResultLimit)
	viper.SetDefault("workers", contract.DefaultWorkers)
	viper.SetDefault("precision", contract.DefaultPrecision)
	viper.SetDefault("output", schema.TextOut)
	viper.SetDefault("color", "yes")
	viper.SetDefault("log-level", contract.DefaultLogLevel)
	viper.SetDefault("cache-backend", schema.SQLiteBackend)
	viper.SetDefault("cache-db-connect", "")
	viper.SetDefault("runs-backend", schema.SQLiteBackend)
	viper.SetDefault("runs-db-connect", "")
	viper.SetDefault("blob-cache", "yes")
	viper.SetDefault("ref", "HEAD")
	viper.SetDefault("churn-window", contract.DefaultChurnWindow)
	viper.SetDefault("horizon", contract.DefaultHorizon)
	viper.SetDefault("image-shape", contract.DefaultImageShape)
	viper.SetDefault("train-frac", contract.DefaultTrainFrac)
	viper.SetDefault("val-frac", contract.DefaultValFrac)
	viper.SetDefault("imbalance", schema.ClassWeight)
	viper.SetDefault("snapshots", contract.DefaultSnapshots)
	viper.SetDefault("seed", contract.DefaultSeed)
	viper.SetDefault("epochs", contract.DefaultEpochs)
	viper.SetDefault("patience", contract.DefaultPatience)
	viper.SetDefault("min-delta", contract.DefaultMinDelta)
	viper.SetDefault("batch-size", contract.DefaultBatchSize)
	viper.SetDefault("learning-rate", contract.DefaultLearningRate)
	viper.SetDefault("hidden", contract.DefaultHidden)
	viper.SetDefault("device", schema.CPUDevice)
}

// setConfigFile points viper at --config or the default .defectrisk.yaml locations.
func setConfigFile() {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		return
	}
	viper.SetConfigName(".defectrisk") // Name of config file (without extension)
	viper.SetConfigType("yaml")        // We'll use YAML format
	viper.AddConfigPath(".")           // Look in the current directory
	viper.AddConfigPath("$HOME")       // Look in the home directory
}

// loadConfigFile reads the config file if one exists.
func loadConfigFile() error {
	setConfigFile()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, which is fine; we'll use defaults/env/flags.
	}
	return nil
}

// sharedSetup unmarshals config, runs validation and opens the stores for the pipeline commands.
func sharedSetup(ctx context.Context, _ *cobra.Command, args []string) error {
	profilePrefix = viper.GetString("profile")
	if err := startProfiling(); err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}

	// 1. Read config file. This merges defaults, file, env, and flags.
	if err := loadConfigFile(); err != nil {
		return err
	}

	// 2. Unmarshal all resolved values from Viper into our raw input struct.
	if err := viper.Unmarshal(input); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	// 3. Handle positional arguments (which Viper doesn't do).
	if len(args) == 1 {
		input.RepoPathStr = args[0]
	} else {
		input.RepoPathStr = "."
	}

	// 4. Run all validation and complex parsing.
	client := contract.NewLocalGitClient()
	if err := contract.ProcessAndValidate(ctx, cfg, client, input); err != nil {
		return err
	}

	logger, err := contract.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	// 5. Initialize persistence layer with validated config
	opts := iocache.StoreOptions{
		CacheBackend: cfg.CacheBackend,
		CacheConnStr: cfg.CacheDBConnect,
		RunsBackend:  cfg.RunsBackend,
		RunsConnStr:  cfg.RunsDBConnect,
	}
	if cfg.BlobCache {
		opts.BlobPath = contract.GetBlobCacheFilePath()
	}
	if err := iocache.InitStores(opts); err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	execCtx = contract.NewExecContext(client, iocache.Manager, logger, cfg.Device, cfg.Workers)
	return nil
}

// sharedSetupWrapper wraps sharedSetup to provide context for Cobra's PreRunE.
func sharedSetupWrapper(cmd *cobra.Command, args []string) error {
	return sharedSetup(rootCtx, cmd, args)
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	rootCtx = ctx
	return rootCmd.ExecuteContext(ctx)
}

// StopProfiling stops profiling if enabled.
func StopProfiling() error {
	return stopProfiling()
}
