package contract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validInput returns raw input mirroring the viper defaults.
func validInput() *ConfigRawInput {
	return &ConfigRawInput{
		RepoPathStr:  ".",
		Limit:        DefaultResultLimit,
		Workers:      4,
		Precision:    DefaultPrecision,
		Output:       "text",
		Color:        "yes",
		LogLevel:     "info",
		CacheBackend: "sqlite",
		RunsBackend:  "sqlite",
		BlobCache:    "yes",
		ChurnWindow:  DefaultChurnWindow,
		Horizon:      DefaultHorizon,
		ImageShape:   DefaultImageShape,
		TrainFrac:    DefaultTrainFrac,
		ValFrac:      DefaultValFrac,
		Imbalance:    "class_weight",
		Snapshots:    DefaultSnapshots,
		Seed:         DefaultSeed,
		Epochs:       DefaultEpochs,
		Patience:     DefaultPatience,
		MinDelta:     DefaultMinDelta,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
		Hidden:       DefaultHidden,
		Device:       "cpu",
	}
}

func TestProcessAndValidate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*ConfigRawInput)
		expectError bool
		needsRoot   bool
	}{
		{name: "valid defaults", modify: func(*ConfigRawInput) {}, needsRoot: true},
		{name: "invalid limit (zero)", modify: func(in *ConfigRawInput) { in.Limit = 0 }, expectError: true},
		{name: "invalid limit (too large)", modify: func(in *ConfigRawInput) { in.Limit = MaxResultLimit + 1 }, expectError: true},
		{name: "invalid workers", modify: func(in *ConfigRawInput) { in.Workers = 0 }, expectError: true},
		{name: "invalid precision", modify: func(in *ConfigRawInput) { in.Precision = 5 }, expectError: true},
		{name: "invalid output", modify: func(in *ConfigRawInput) { in.Output = "xml" }, expectError: true},
		{name: "parquet output", modify: func(in *ConfigRawInput) { in.Output = "PARQUET" }, needsRoot: true},
		{name: "invalid color", modify: func(in *ConfigRawInput) { in.Color = "sometimes" }, expectError: true},
		{name: "invalid cache backend", modify: func(in *ConfigRawInput) { in.CacheBackend = "redis" }, expectError: true},
		{name: "mysql without connect", modify: func(in *ConfigRawInput) { in.RunsBackend = "mysql" }, expectError: true},
		{name: "same sqlite file", modify: func(in *ConfigRawInput) {
			in.CacheDBConnect = "/tmp/same.db"
			in.RunsDBConnect = "/tmp/same.db"
		}, expectError: true},
		{name: "since after until", modify: func(in *ConfigRawInput) {
			in.Since = "2024-06-01"
			in.Until = "2024-01-01"
		}, expectError: true},
		{name: "relative since", modify: func(in *ConfigRawInput) { in.Since = "2 years ago" }, needsRoot: true},
		{name: "bad bugfix pattern", modify: func(in *ConfigRawInput) { in.BugfixPatterns = "fix(" }, expectError: true},
		{name: "bad churn window", modify: func(in *ConfigRawInput) { in.ChurnWindow = "soon" }, expectError: true},
		{name: "bad image shape", modify: func(in *ConfigRawInput) { in.ImageShape = "32x0x2" }, expectError: true},
		{name: "only train-end", modify: func(in *ConfigRawInput) { in.TrainEnd = "2024-01-01" }, expectError: true},
		{name: "cutoffs out of order", modify: func(in *ConfigRawInput) {
			in.TrainEnd = "2024-06-01"
			in.ValEnd = "2024-01-01"
		}, expectError: true},
		{name: "fractions too large", modify: func(in *ConfigRawInput) { in.TrainFrac = 0.9 }, expectError: true},
		{name: "invalid imbalance", modify: func(in *ConfigRawInput) { in.Imbalance = "smote" }, expectError: true},
		{name: "too few snapshots", modify: func(in *ConfigRawInput) { in.Snapshots = 2 }, expectError: true},
		{name: "invalid epochs", modify: func(in *ConfigRawInput) { in.Epochs = 0 }, expectError: true},
		{name: "negative min-delta", modify: func(in *ConfigRawInput) { in.MinDelta = -1 }, expectError: true},
		{name: "invalid hidden", modify: func(in *ConfigRawInput) { in.Hidden = "8,x" }, expectError: true},
		{name: "invalid device", modify: func(in *ConfigRawInput) { in.Device = "tpu" }, expectError: true},
		{name: "gpu device accepted", modify: func(in *ConfigRawInput) { in.Device = "gpu" }, needsRoot: true},
		{name: "bad fit timeout", modify: func(in *ConfigRawInput) { in.FitTimeout = "forever" }, expectError: true},
	}

	workDir, err := filepath.Abs(".")
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mockClient := &MockGitClient{}
			if tt.needsRoot {
				mockClient.On("GetRepoRoot", ctx, workDir).Return("/mock/repo/root", nil)
			}
			input := validInput()
			tt.modify(input)

			cfg := &Config{}
			err := ProcessAndValidate(ctx, cfg, mockClient, input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/mock/repo/root", cfg.RepoPath)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestProcessAndValidateValues(t *testing.T) {
	ctx := context.Background()
	workDir, err := filepath.Abs(".")
	require.NoError(t, err)
	mockClient := &MockGitClient{}
	mockClient.On("GetRepoRoot", ctx, workDir).Return("/mock/repo/root", nil)

	input := validInput()
	input.Hidden = "24,8"
	input.Exclude = "generated/, *.pb.go"
	input.MineTimeout = "5m"
	input.TrainEnd = "2024-01-01"
	input.ValEnd = "2024-03-01"

	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(ctx, cfg, mockClient, input))

	assert.Equal(t, 30*24*time.Hour, cfg.ChurnWindow)
	assert.Equal(t, 90*24*time.Hour, cfg.Horizon)
	assert.Equal(t, schema.ImageShape{H: 32, W: 32, C: 2}, cfg.ImageShape)
	assert.Equal(t, 24, cfg.HiddenTabular)
	assert.Equal(t, 8, cfg.HiddenImage)
	assert.Equal(t, 5*time.Minute, cfg.MineTimeout)
	assert.Zero(t, cfg.FitTimeout)
	assert.Equal(t, schema.ClassWeight, cfg.Imbalance)
	assert.Equal(t, schema.CPUDevice, cfg.Device)
	assert.Equal(t, "HEAD", cfg.Ref)
	assert.Equal(t, DefaultBugfixPatterns, cfg.BugfixPatterns)
	assert.Contains(t, cfg.Excludes, "vendor/")
	assert.Contains(t, cfg.Excludes, "*.pb.go")
	assert.True(t, cfg.TrainEnd.Before(cfg.ValEnd))
	assert.Equal(t, GetModelDir("/mock/repo/root"), cfg.ModelDir)
	assert.True(t, cfg.BlobCache)
}

func TestResolveGitPathAndFilter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	t.Run("subdirectory sets filter", func(t *testing.T) {
		mockClient := &MockGitClient{}
		mockClient.On("GetRepoRoot", ctx, sub).Return(dir, nil)
		cfg := &Config{}
		require.NoError(t, resolveGitPathAndFilter(ctx, cfg, mockClient, &ConfigRawInput{RepoPathStr: sub}))
		assert.Equal(t, dir, cfg.RepoPath)
		assert.Equal(t, "pkg/", cfg.PathFilter)
	})

	t.Run("explicit filter wins", func(t *testing.T) {
		mockClient := &MockGitClient{}
		mockClient.On("GetRepoRoot", ctx, sub).Return(dir, nil)
		cfg := &Config{PathFilter: "src/"}
		require.NoError(t, resolveGitPathAndFilter(ctx, cfg, mockClient, &ConfigRawInput{RepoPathStr: sub}))
		assert.Equal(t, "src/", cfg.PathFilter)
	})

	t.Run("not a repository", func(t *testing.T) {
		mockClient := &MockGitClient{}
		mockClient.On("GetRepoRoot", ctx, dir).Return("", errors.New("not a git repository"))
		err := resolveGitPathAndFilter(ctx, &Config{}, mockClient, &ConfigRawInput{RepoPathStr: dir})
		var repoErr *schema.RepositoryAccessError
		require.ErrorAs(t, err, &repoErr)
		assert.Equal(t, dir, repoErr.Repo)
	})
}

func TestValidateDatabaseConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		backend schema.DatabaseBackend
		conn    string
		wantErr bool
	}{
		{"sqlite empty", schema.SQLiteBackend, "", false},
		{"none", schema.NoneBackend, "", false},
		{"mysql valid", schema.MySQLBackend, "user:pass@tcp(localhost:3306)/defectrisk", false},
		{"mysql missing tcp", schema.MySQLBackend, "user:pass@localhost/defectrisk", true},
		{"postgres valid", schema.PostgreSQLBackend, "host=localhost dbname=defectrisk", false},
		{"postgres missing dbname", schema.PostgreSQLBackend, "host=localhost", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatabaseConnectionString(tt.backend, tt.conn)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigClone(t *testing.T) {
	cfg := &Config{Excludes: []string{"a"}, BugfixPatterns: []string{"fix"}}
	clone := cfg.Clone()
	clone.Excludes[0] = "b"
	clone.BugfixPatterns[0] = "bug"
	assert.Equal(t, "a", cfg.Excludes[0])
	assert.Equal(t, "fix", cfg.BugfixPatterns[0])
}
