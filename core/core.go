// Package core wires mining, extraction, training and scoring into the commands.
package core

import (
	"context"
	"time"

	"github.com/huangsam/defectrisk/core/model"
	"github.com/huangsam/defectrisk/core/train"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/outwriter"
)

// ExecutorFunc defines the function signature shared by the pipeline commands.
type ExecutorFunc func(ctx context.Context, cfg *contract.Config, ec *contract.ExecContext) error

// ExecuteMine mines the repository history and prints a summary.
func ExecuteMine(ctx context.Context, cfg *contract.Config, ec *contract.ExecContext) error {
	start := time.Now()
	p, err := newPipeline(cfg, ec)
	if err != nil {
		return err
	}
	_, stats, err := p.mine(ctx, "", time.Time{})
	if err != nil {
		return err
	}
	return outwriter.WriteMineStats(stats, cfg, time.Since(start))
}

// ExecuteTrain runs mine, labeled extraction, dataset build and training, then prints
// the epoch history and the best model's test-split metrics.
//
// An interrupted run still prints what it achieved before returning its error.
func ExecuteTrain(ctx context.Context, cfg *contract.Config, ec *contract.ExecContext) error {
	p, err := newPipeline(cfg, ec)
	if err != nil {
		return err
	}
	splits, err := p.labeledSplits(ctx)
	if err != nil {
		return err
	}

	net, err := model.NewNetwork(splits.Train, model.ConfigFrom(cfg))
	if err != nil {
		return err
	}
	result, best, runErr := train.Run(ctx, ec, net, splits.Train, splits.Val, train.OptionsFrom(cfg))
	if best != nil {
		test, err := model.Evaluate(best, splits.Test)
		if err != nil {
			return err
		}
		result.Test = &test
	}

	if err := outwriter.WriteTraining(result, cfg); err != nil {
		return err
	}
	return runErr
}

// ExecuteScore scores the units at the configured ref with the best checkpoint
// and prints the ranked report.
func ExecuteScore(ctx context.Context, cfg *contract.Config, ec *contract.ExecContext) error {
	start := time.Now()
	report, err := ScoreRepository(ctx, ec, cfg)
	if err != nil {
		return err
	}
	recordScores(ec, cfg, report, start)
	return outwriter.WriteReport(report, cfg, time.Since(start))
}

// ExecuteEvaluate evaluates the best checkpoint on the test split of a rebuilt labeled dataset.
func ExecuteEvaluate(ctx context.Context, cfg *contract.Config, ec *contract.ExecContext) error {
	start := time.Now()
	p, err := newPipeline(cfg, ec)
	if err != nil {
		return err
	}
	m, manifest, err := model.LoadCheckpointFor(cfg.ModelDir, p.extractor.Schema(), cfg.ImageShape)
	if err != nil {
		return err
	}
	splits, err := p.labeledSplits(ctx)
	if err != nil {
		return err
	}
	eval, err := model.Evaluate(m, splits.Test)
	if err != nil {
		return err
	}
	return outwriter.WriteEvaluation(eval, manifest, cfg, time.Since(start))
}
