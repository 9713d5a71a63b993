package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/defectrisk/core/model"
	"github.com/huangsam/defectrisk/core/risk"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
)

// ScoreRunKind is the kind recorded in the run store for scoring runs.
const ScoreRunKind = "score"

// ScoreRepository predicts a defect probability for every unit at cfg.Ref and
// returns the ranked report. The checkpoint in cfg.ModelDir must match the
// extractor's schema and cfg.ImageShape.
func ScoreRepository(ctx context.Context, ec *contract.ExecContext, cfg *contract.Config) (schema.Report, error) {
	p, err := newPipeline(cfg, ec)
	if err != nil {
		return schema.Report{}, err
	}
	m, manifest, err := model.LoadCheckpointFor(cfg.ModelDir, p.extractor.Schema(), cfg.ImageShape)
	if err != nil {
		return schema.Report{}, err
	}

	commitID, err := ec.Client.ResolveRef(ctx, cfg.RepoPath, cfg.Ref)
	if err != nil {
		return schema.Report{}, &schema.RepositoryAccessError{Repo: cfg.RepoPath, Err: err}
	}
	snapTime, err := ec.Client.GetCommitTime(ctx, cfg.RepoPath, commitID)
	if err != nil {
		return schema.Report{}, &schema.RepositoryAccessError{Repo: cfg.RepoPath, CommitID: commitID, Err: err}
	}
	snap := Snapshot{CommitID: commitID, Time: snapTime}

	// Only the snapshot's own ancestry may feed its features.
	events, _, err := p.mine(ctx, commitID, snapTime)
	if err != nil {
		return schema.Report{}, err
	}
	units, err := unitsAt(ctx, ec, cfg.RepoPath, events, snap, cfg.ChurnWindow, p.miner)
	if err != nil {
		return schema.Report{}, err
	}
	if len(units) == 0 {
		p.log.WithField("churn_window", cfg.ChurnWindow).Warn("no files changed within the churn window")
	}

	records, _, err := p.extractor.ExtractAll(ctx, ec, units, events, 0, false)
	if err != nil {
		return schema.Report{}, err
	}
	probs, err := model.Predict(m, records)
	if err != nil {
		return schema.Report{}, err
	}
	scores, err := risk.FromPredictions(records, probs)
	if err != nil {
		return schema.Report{}, err
	}

	report := risk.Aggregate(scores)
	report.GeneratedAt = time.Now()
	report.SnapshotCommitID = commitID
	report.ModelID = manifest.ModelID
	report.Folders = risk.RollupFolders(report.Scores)

	p.log.WithFields(logrus.Fields{
		"snapshot": schema.ShortCommit(commitID),
		"model_id": manifest.ModelID,
		"scored":   len(report.Scores),
	}).Info("repository scored")
	return report, nil
}

// recordScores stores a scoring run. Store failures are logged and never fail the command.
func recordScores(ec *contract.ExecContext, cfg *contract.Config, report schema.Report, start time.Time) {
	store := ec.RunStore()
	if store == nil {
		return
	}
	runID := uuid.NewString()
	log := ec.Logger.WithFields(logrus.Fields{"stage": "score", "run_id": runID})

	params := map[string]any{
		"ref":          cfg.Ref,
		"snapshot":     report.SnapshotCommitID,
		"model_id":     report.ModelID,
		"churn_window": cfg.ChurnWindow.String(),
	}
	if err := store.BeginRun(runID, ScoreRunKind, cfg.RepoPath, start, params); err != nil {
		log.WithError(err).Warn("failed to record run start")
		return
	}
	if err := store.RecordScores(runID, report.GeneratedAt, report.Scores); err != nil {
		log.WithError(err).Warn("failed to record scores")
	}
	result := schema.TrainingResult{
		RunID:    runID,
		State:    schema.ScoredState,
		Manifest: &schema.Manifest{ModelID: report.ModelID},
	}
	if err := store.EndRun(runID, time.Now(), result); err != nil {
		log.WithError(err).Warn("failed to record run end")
	}
}
