// Package outwriter has output and writer logic.
package outwriter

import (
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// OutWriter provides a unified interface for all output operations.
// It encapsulates the various output formats and provides a clean API for the core logic.
type OutWriter struct{}

// NewOutWriter creates a new instance of the output writer.
func NewOutWriter() *OutWriter {
	return &OutWriter{}
}

// WriteReport prints a ranked risk report using the configured output format.
func (ow *OutWriter) WriteReport(report schema.Report, cfg *contract.Config, duration time.Duration) error {
	return WriteReport(report, cfg, duration)
}

// WriteTraining prints a training result using the configured output format.
func (ow *OutWriter) WriteTraining(result schema.TrainingResult, cfg *contract.Config) error {
	return WriteTraining(result, cfg)
}

// WriteEvaluation prints checkpoint evaluation metrics using the configured output format.
func (ow *OutWriter) WriteEvaluation(eval schema.EvalMetrics, manifest schema.Manifest, cfg *contract.Config, duration time.Duration) error {
	return WriteEvaluation(eval, manifest, cfg, duration)
}

// WriteMineStats prints a history mining summary using the configured output format.
func (ow *OutWriter) WriteMineStats(stats schema.MineStats, cfg *contract.Config, duration time.Duration) error {
	return WriteMineStats(stats, cfg, duration)
}

// labelFunc picks colored labels for terminals that want them.
func labelFunc(cfg *contract.Config) func(float64) string {
	if cfg.UseColors {
		return contract.GetColorLabel
	}
	return contract.GetPlainLabel
}
