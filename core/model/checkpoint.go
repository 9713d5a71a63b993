package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/defectrisk/schema"
)

// Checkpoint layout inside the model directory.
const (
	BlobFile     = "model.bin"
	ManifestFile = "manifest.json"
	BestPointer  = "best"
)

// SaveCheckpoint writes m under dir/<model-id> and points dir/best at it.
// m is not modified; use WithID to bind the returned ModelID to a model.
// The model directory is assembled under a temporary name and renamed into
// place, so readers never observe a half-written checkpoint.
func SaveCheckpoint(dir string, m *TrainedModel) (schema.Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to create model directory: %w", err)
	}

	var blob bytes.Buffer
	if err := gob.NewEncoder(&blob).Encode(&m.w); err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to encode model: %w", err)
	}
	sum := sha256.Sum256(blob.Bytes())

	manifest := schema.Manifest{
		ModelID:    uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Schema:     m.Schema(),
		Shape:      m.w.Shape,
		Epoch:      m.epoch,
		Metric:     m.metric,
		MetricName: MetricName,
		BlobSHA256: hex.EncodeToString(sum[:]),
		Device:     m.device,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.MkdirTemp(dir, ".tmp-")
	if err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := os.WriteFile(filepath.Join(tmp, BlobFile), blob.Bytes(), 0o644); err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to write model blob: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, ManifestFile), manifestData, 0o644); err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifest.ModelID)); err != nil {
		return schema.Manifest{}, fmt.Errorf("failed to publish checkpoint: %w", err)
	}
	if err := SetBest(dir, manifest.ModelID); err != nil {
		return schema.Manifest{}, err
	}
	return manifest, nil
}

// SetBest atomically points dir/best at modelID.
func SetBest(dir, modelID string) error {
	f, err := os.CreateTemp(dir, ".best-")
	if err != nil {
		return fmt.Errorf("failed to create best pointer: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.WriteString(modelID + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write best pointer: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close best pointer: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, BestPointer)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace best pointer: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the best checkpoint under dir. dir may also be a single
// model directory containing a manifest. The manifest is mandatory, the blob
// checksum must match it, and the manifest schema and shape must match the blob.
func LoadCheckpoint(dir string) (*TrainedModel, schema.Manifest, error) {
	modelDir, err := resolveModelDir(dir)
	if err != nil {
		return nil, schema.Manifest{}, err
	}

	manifestData, err := os.ReadFile(filepath.Join(modelDir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, schema.Manifest{}, fmt.Errorf("%s: %w", modelDir, schema.ErrManifestMissing)
	} else if err != nil {
		return nil, schema.Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest schema.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, schema.Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	blob, err := os.ReadFile(filepath.Join(modelDir, BlobFile))
	if err != nil {
		return nil, schema.Manifest{}, fmt.Errorf("failed to read model blob: %w", err)
	}
	sum := sha256.Sum256(blob)
	if got := hex.EncodeToString(sum[:]); got != manifest.BlobSHA256 {
		return nil, schema.Manifest{}, fmt.Errorf("model blob checksum mismatch for %s: manifest %s, blob %s",
			manifest.ModelID, manifest.BlobSHA256, got)
	}

	var w weights
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&w); err != nil {
		return nil, schema.Manifest{}, fmt.Errorf("failed to decode model blob: %w", err)
	}
	if err := w.validate(); err != nil {
		return nil, schema.Manifest{}, fmt.Errorf("corrupt model blob %s: %w", manifest.ModelID, err)
	}
	if err := w.checkSchema("checkpoint manifest "+manifest.ModelID, manifest.Schema, manifest.Shape); err != nil {
		return nil, schema.Manifest{}, err
	}

	return &TrainedModel{
		w:      w,
		id:     manifest.ModelID,
		epoch:  manifest.Epoch,
		metric: manifest.Metric,
		device: manifest.Device,
	}, manifest, nil
}

// LoadCheckpointFor loads the best checkpoint and also requires it to match
// the schema and shape the caller will feed it.
func LoadCheckpointFor(dir string, sch schema.TabularSchema, shape schema.ImageShape) (*TrainedModel, schema.Manifest, error) {
	m, manifest, err := LoadCheckpoint(dir)
	if err != nil {
		return nil, schema.Manifest{}, err
	}
	if err := m.CheckSchema(sch, shape); err != nil {
		return nil, schema.Manifest{}, err
	}
	return m, manifest, nil
}

func resolveModelDir(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
		return dir, nil
	}
	pointer, err := os.ReadFile(filepath.Join(dir, BestPointer))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", dir, schema.ErrNoCheckpoint)
	} else if err != nil {
		return "", fmt.Errorf("failed to read best pointer: %w", err)
	}
	id := strings.TrimSpace(string(pointer))
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid best pointer %q in %s", id, dir)
	}
	return filepath.Join(dir, id), nil
}
