// Package main provides a performance benchmarking tool for the defectrisk CLI.
// It measures execution times of mining and scoring across repositories of different sizes,
// running each command multiple times, treating the first successful cached run as cold and
// averaging the rest as warm, and writes CSV output for performance analysis and documentation.
//
// Prerequisites:
// - defectrisk binary installed and available in PATH
// - Test repositories cloned to the specified base directory
// - Git repositories: csv-parser, fd, git, kubernetes
//
// Usage: go run benchmark/main.go [repo-base-dir]
//
//	repo-base-dir: Directory containing test repositories
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// BenchmarkResult holds the result of a benchmark run (no-cache average, cold run and average of warm runs).
type BenchmarkResult struct {
	Repository  string
	Command     string
	NoCacheTime string
	ColdTime    string
	WarmTime    string
}

// BenchmarkConfig holds configuration for the benchmark run.
type BenchmarkConfig struct {
	RepoBase    string
	Timeout     time.Duration
	Workers     int
	NoCacheRuns int
	CacheRuns   int
	TestRepos   []string
	Since       map[string]string
}

// completionPhrases identify a successful run of each command in its combined output.
var completionPhrases = map[string]string{
	"mine":  "Mined from",
	"train": "finished as",
	"score": "Scoring completed in",
}

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("Usage: %s [repo-base-dir]\n", os.Args[0])
		os.Exit(1)
	}
	repoBase := os.Args[1]

	config := BenchmarkConfig{
		RepoBase:    repoBase,
		Timeout:     10 * time.Minute,
		Workers:     14,
		NoCacheRuns: 3,
		CacheRuns:   4,
		TestRepos:   []string{"csv-parser", "fd", "git", "kubernetes"},
		Since: map[string]string{
			"csv-parser": "",
			"fd":         "",
			"git":        "3 years ago",
			"kubernetes": "1 year ago",
		},
	}

	if err := checkPrerequisites(config); err != nil {
		fmt.Printf("Prerequisites check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Clearing cache...\n")
	clearCmd := exec.Command("defectrisk", "cache", "clear")
	if output, err := clearCmd.CombinedOutput(); err != nil {
		fmt.Printf("Warning: failed to clear cache: %v\nOutput: %s\n", err, string(output))
	} else {
		fmt.Printf("Cache cleared successfully\n")
	}

	results := runBenchmarks(config)

	if err := saveResults(results); err != nil {
		fmt.Printf("Failed to save results: %v\n", err)
		os.Exit(1)
	}

	printSummary(results)
}

// checkPrerequisites verifies that the defectrisk binary and test repositories exist
func checkPrerequisites(config BenchmarkConfig) error {
	if _, err := exec.LookPath("defectrisk"); err != nil {
		return fmt.Errorf("defectrisk binary not found in PATH")
	}
	for _, repo := range config.TestRepos {
		repoPath := filepath.Join(config.RepoBase, repo)
		if _, err := os.Stat(repoPath); os.IsNotExist(err) {
			return fmt.Errorf("repository %s not found at %s", repo, repoPath)
		}
	}
	return nil
}

// runBenchmarks executes all benchmark tests across configured repositories.
// Scoring needs a checkpoint, so each repository is trained once between mine and score.
func runBenchmarks(config BenchmarkConfig) []BenchmarkResult {
	var results []BenchmarkResult

	fmt.Printf("Starting benchmark: %d repos, %v timeout, %d workers, no-cache: %d runs, cache: %d runs\n",
		len(config.TestRepos), config.Timeout, config.Workers, config.NoCacheRuns, config.CacheRuns)

	for _, repo := range config.TestRepos {
		fmt.Printf("Benchmarking %s\n", repo)
		repoPath := filepath.Join(config.RepoBase, repo)

		var extra []string
		if since := config.Since[repo]; since != "" {
			extra = append(extra, "--since", since)
		}

		results = append(results, runBenchmarkSuite(config, repo, repoPath, "mine", extra))

		fmt.Printf("Training %s\n", repo)
		if _, ok := runOnce(config, repoPath, "train", "sqlite", extra); !ok {
			fmt.Printf("  training failed or timed out, skipping score\n")
			continue
		}

		results = append(results, runBenchmarkSuite(config, repo, repoPath, "score", extra))
	}

	return results
}

// runBenchmarkSuite runs both no-cache and cache benchmarks for a command
func runBenchmarkSuite(config BenchmarkConfig, repo, repoPath, command string, extraArgs []string) BenchmarkResult {
	fmt.Printf("Running %s on %s\n", command, repo)

	runPhase := func(cacheBackend string, numRuns int, phaseName string) (coldTime float64, avgTime string) {
		fmt.Printf("  %s phase (%d runs)\n", phaseName, numRuns)
		cold, times := runBenchmark(config, repoPath, command, cacheBackend, extraArgs, numRuns)
		if len(times) == 0 {
			avgTime = "TIMEOUT"
		} else {
			var sum float64
			for _, t := range times {
				sum += t
			}
			avgTime = fmt.Sprintf("%.3fs", sum/float64(len(times)))
		}
		return cold, avgTime
	}

	// Phase 1: No-cache runs
	_, noCacheAvg := runPhase("none", config.NoCacheRuns, "No-cache")

	// Phase 2: Cache runs
	coldTime, warmAvg := runPhase("sqlite", config.CacheRuns, "Cache")

	coldTimeStr := "TIMEOUT"
	if coldTime > 0 {
		coldTimeStr = fmt.Sprintf("%.3fs", coldTime)
	}

	fmt.Printf("  No-cache average: %s, Cold time: %s, Warm average: %s\n", noCacheAvg, coldTimeStr, warmAvg)

	return BenchmarkResult{
		Repository:  repo,
		Command:     command,
		NoCacheTime: noCacheAvg,
		ColdTime:    coldTimeStr,
		WarmTime:    warmAvg,
	}
}

// runBenchmark executes a command multiple times and returns the cold time and the warm times
func runBenchmark(config BenchmarkConfig, repoPath, command, cacheBackend string, extraArgs []string, numRuns int) (coldTime float64, warmTimes []float64) {
	var times []float64
	for range numRuns {
		if elapsed, ok := runOnce(config, repoPath, command, cacheBackend, extraArgs); ok {
			times = append(times, elapsed)
		}
	}
	if len(times) > 0 {
		coldTime = times[0]
		warmTimes = times[1:]
	}
	return
}

// runOnce runs a single command and reports its wall time in seconds.
func runOnce(config BenchmarkConfig, repoPath, command, cacheBackend string, extraArgs []string) (float64, bool) {
	args := []string{command, "--cache-backend", cacheBackend, "--blob-cache", blobCacheFor(cacheBackend),
		"--workers", fmt.Sprint(config.Workers)}
	args = append(args, extraArgs...)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "defectrisk", args...)
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil || !strings.Contains(string(output), completionPhrases[command]) {
		return 0, false
	}
	return time.Since(start).Seconds(), true
}

func blobCacheFor(cacheBackend string) string {
	if cacheBackend == "none" {
		return "no"
	}
	return "yes"
}

// saveResults writes benchmark results to a timestamped CSV file
func saveResults(results []BenchmarkResult) error {
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("/tmp/defectrisk_benchmark_%s.csv", timestamp)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close file %s: %v\n", filename, closeErr)
		}
	}()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"repo", "cmd", "no_cache_avg", "cold_time", "warm_avg"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, result := range results {
		if err := writer.Write([]string{result.Repository, result.Command, result.NoCacheTime, result.ColdTime, result.WarmTime}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	fmt.Printf("Results saved to %s\n", filename)
	return nil
}

// printSummary displays the final benchmark results summary
func printSummary(results []BenchmarkResult) {
	fmt.Printf("Benchmark complete\n")
	printCommandSummary(results, "mine", "History Mining:")
	printCommandSummary(results, "score", "Repository Scoring:")
}

// printCommandSummary displays results for a specific command type
func printCommandSummary(results []BenchmarkResult, command, title string) {
	fmt.Printf("%s\n", title)
	for _, result := range results {
		if result.Command == command {
			fmt.Printf("  %-12s: No-cache: %s, Cold: %s, Warm: %s\n", result.Repository, result.NoCacheTime, result.ColdTime, result.WarmTime)
		}
	}
}
