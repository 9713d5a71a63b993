package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedModel(t *testing.T) (*TrainedModel, schema.Dataset) {
	t.Helper()
	train := separable(24, 1)
	cfg := testConfig()
	cfg.Epochs = 3
	m, _, err := Fit(context.Background(), train, separable(9, 2), cfg)
	require.NoError(t, err)
	return m, train
}

func TestCheckpointRoundTrip(t *testing.T) {
	m, train := trainedModel(t)
	dir := t.TempDir()

	manifest, err := SaveCheckpoint(dir, m)
	require.NoError(t, err)
	assert.NotEmpty(t, manifest.ModelID)
	assert.Empty(t, m.ID(), "saving leaves the model untouched")
	assert.Equal(t, manifest.ModelID, m.WithID(manifest.ModelID).ID())
	assert.Equal(t, testSchema, manifest.Schema)
	assert.Equal(t, testShape, manifest.Shape)
	assert.Equal(t, MetricName, manifest.MetricName)
	assert.Len(t, manifest.BlobSHA256, 64)

	pointer, err := os.ReadFile(filepath.Join(dir, BestPointer))
	require.NoError(t, err)
	assert.Equal(t, manifest.ModelID, strings.TrimSpace(string(pointer)))

	loaded, loadedManifest, err := LoadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, manifest.ModelID, loaded.ID())
	assert.Equal(t, manifest.BlobSHA256, loadedManifest.BlobSHA256)
	assert.Equal(t, m.Epoch(), loaded.Epoch())

	want, err := m.Predict(train.Records)
	require.NoError(t, err)
	got, err := loaded.Predict(train.Records)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// a model directory can be loaded directly
	direct, _, err := LoadCheckpoint(filepath.Join(dir, manifest.ModelID))
	require.NoError(t, err)
	assert.Equal(t, manifest.ModelID, direct.ID())

	// no staging leftovers
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-") || strings.HasPrefix(e.Name(), ".best-"), e.Name())
	}
}

func TestCheckpointBestPointerMoves(t *testing.T) {
	m, _ := trainedModel(t)
	dir := t.TempDir()

	first, err := SaveCheckpoint(dir, m)
	require.NoError(t, err)
	second, err := SaveCheckpoint(dir, m)
	require.NoError(t, err)
	assert.NotEqual(t, first.ModelID, second.ModelID)

	loaded, _, err := LoadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, second.ModelID, loaded.ID())

	require.NoError(t, SetBest(dir, first.ModelID))
	loaded, _, err = LoadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, first.ModelID, loaded.ID())
}

func TestLoadCheckpointErrors(t *testing.T) {
	t.Run("no checkpoint", func(t *testing.T) {
		_, _, err := LoadCheckpoint(t.TempDir())
		assert.ErrorIs(t, err, schema.ErrNoCheckpoint)
	})

	t.Run("manifest missing", func(t *testing.T) {
		m, _ := trainedModel(t)
		dir := t.TempDir()
		manifest, err := SaveCheckpoint(dir, m)
		require.NoError(t, err)
		require.NoError(t, os.Remove(filepath.Join(dir, manifest.ModelID, ManifestFile)))

		_, _, err = LoadCheckpoint(dir)
		assert.ErrorIs(t, err, schema.ErrManifestMissing)
	})

	t.Run("tampered blob", func(t *testing.T) {
		m, _ := trainedModel(t)
		dir := t.TempDir()
		manifest, err := SaveCheckpoint(dir, m)
		require.NoError(t, err)
		blobPath := filepath.Join(dir, manifest.ModelID, BlobFile)
		data, err := os.ReadFile(blobPath)
		require.NoError(t, err)
		data[len(data)/2] ^= 0xff
		require.NoError(t, os.WriteFile(blobPath, data, 0o644))

		_, _, err = LoadCheckpoint(dir)
		assert.ErrorContains(t, err, "checksum mismatch")
	})

	t.Run("invalid pointer", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, BestPointer), []byte("../elsewhere\n"), 0o644))
		_, _, err := LoadCheckpoint(dir)
		assert.ErrorContains(t, err, "invalid best pointer")
	})
}

func TestLoadCheckpointFor(t *testing.T) {
	m, _ := trainedModel(t)
	dir := t.TempDir()
	_, err := SaveCheckpoint(dir, m)
	require.NoError(t, err)

	_, _, err = LoadCheckpointFor(dir, testSchema, testShape)
	require.NoError(t, err)

	_, _, err = LoadCheckpointFor(dir, testSchema, schema.ImageShape{H: 32, W: 32, C: 2})
	var mismatch *schema.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Contains(t, mismatch.Diff(), "shape 2x2x2 != 32x32x2")

	_, _, err = LoadCheckpointFor(dir, schema.TabularSchema{Names: []string{"churn"}}, testShape)
	require.True(t, errors.As(err, &mismatch))
}
