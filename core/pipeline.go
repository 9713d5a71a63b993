package core

import (
	"context"
	"fmt"
	"time"

	"github.com/huangsam/defectrisk/core/dataset"
	"github.com/huangsam/defectrisk/core/features"
	"github.com/huangsam/defectrisk/core/history"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
)

// pipeline wires the stages shared by the commands.
type pipeline struct {
	cfg       *contract.Config
	ec        *contract.ExecContext
	miner     *history.Miner
	extractor *features.Extractor
	log       *logrus.Entry
}

func newPipeline(cfg *contract.Config, ec *contract.ExecContext) (*pipeline, error) {
	miner, err := history.NewMiner(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid bugfix patterns: %w", err)
	}
	return &pipeline{
		cfg:       cfg,
		ec:        ec,
		miner:     miner,
		extractor: features.NewExtractor(cfg),
		log:       ec.Logger.WithField("repo", cfg.RepoPath),
	}, nil
}

// mine returns the history of ref (HEAD when empty) in (since, until].
// A zero until falls back to the configured bound.
func (p *pipeline) mine(ctx context.Context, ref string, until time.Time) ([]schema.CommitEvent, schema.MineStats, error) {
	if until.IsZero() {
		until = p.cfg.Until
	}
	events, stats, err := p.miner.Mine(ctx, p.ec, p.cfg.RepoPath, ref, p.cfg.Since, until)
	if err != nil {
		return nil, stats, err
	}
	p.log.WithFields(logrus.Fields{
		"commits":    stats.Commits,
		"bugfixes":   stats.BugfixCommits,
		"skipped":    stats.Skipped,
		"from_cache": stats.FromCache,
	}).Info("history mined")
	return events, stats, nil
}

// labeledRecords extracts labeled records at every uncensored training snapshot.
func (p *pipeline) labeledRecords(ctx context.Context, events []schema.CommitEvent) ([]schema.FeatureRecord, error) {
	snaps := SelectSnapshots(events, p.cfg.Snapshots, p.cfg.Horizon, true)
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshot leaves a full %s label horizon before the last commit: %w",
			p.cfg.Horizon, &schema.InsufficientDataError{Split: dataset.TrainSplit})
	}

	var units []schema.CodeUnit
	for _, snap := range snaps {
		batch, err := unitsAt(ctx, p.ec, p.cfg.RepoPath, events, snap, p.cfg.ChurnWindow, p.miner)
		if err != nil {
			return nil, err
		}
		units = append(units, batch...)
	}
	p.log.WithFields(logrus.Fields{"snapshots": len(snaps), "units": len(units)}).Info("training units selected")

	records, _, err := p.extractor.ExtractAll(ctx, p.ec, units, events, p.cfg.Horizon, true)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// splits rebuilds the temporal splits, deriving cutoffs from fractions unless both are set.
func (p *pipeline) splits(records []schema.FeatureRecord) (schema.Splits, error) {
	cuts := schema.SplitCutoffs{TrainEnd: p.cfg.TrainEnd, ValEnd: p.cfg.ValEnd}
	if cuts.TrainEnd.IsZero() || cuts.ValEnd.IsZero() {
		var err error
		cuts, err = dataset.CutoffsByFraction(records, p.cfg.TrainFrac, p.cfg.ValFrac)
		if err != nil {
			return schema.Splits{}, err
		}
	}
	splits, err := dataset.Build(p.extractor.Schema(), records, cuts, p.cfg.Horizon, p.cfg.Imbalance, p.cfg.Seed)
	if err != nil {
		return schema.Splits{}, err
	}
	p.log.WithFields(logrus.Fields{
		"train":     splits.Train.Len(),
		"val":       splits.Val.Len(),
		"test":      splits.Test.Len(),
		"purged":    splits.Purged,
		"train_end": splits.Cuts.TrainEnd.Format(contract.DateTimeFormat),
		"val_end":   splits.Cuts.ValEnd.Format(contract.DateTimeFormat),
	}).Info("dataset built")
	return splits, nil
}

// labeledSplits runs mine, extract and build in sequence.
func (p *pipeline) labeledSplits(ctx context.Context) (schema.Splits, error) {
	events, _, err := p.mine(ctx, "", time.Time{})
	if err != nil {
		return schema.Splits{}, err
	}
	records, err := p.labeledRecords(ctx, events)
	if err != nil {
		return schema.Splits{}, err
	}
	return p.splits(records)
}
