// Package train orchestrates model fitting as a small state machine:
// initialized, training, then one of converged, early_stopped,
// max_epochs_reached or failed.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/defectrisk/core/model"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
)

// DefaultConvergenceTol is the train-loss change below which a run counts as converged.
const DefaultConvergenceTol = 1e-6

// RunKind is the kind recorded in the run store for training runs.
const RunKind = "train"

// Trainable is the part of model.Network the orchestrator drives.
type Trainable interface {
	TrainEpoch(ctx context.Context, ds schema.Dataset) (float64, error)
	Validate(ds schema.Dataset) (schema.EvalMetrics, error)
	Snapshot(epoch int, metric float64) *model.TrainedModel
}

var _ Trainable = &model.Network{} // Compile-time check

// Options controls one orchestrated run.
type Options struct {
	RunID          string // generated when empty
	RepoPath       string
	MaxEpochs      int
	Patience       int // zero disables early stopping
	MinDelta       float64
	ConvergenceTol float64
	Timeout        time.Duration // zero means no budget
	ModelDir       string        // empty disables checkpointing
	Params         map[string]any
}

// OptionsFrom builds run options from the validated configuration.
func OptionsFrom(cfg *contract.Config) Options {
	return Options{
		RepoPath:       cfg.RepoPath,
		MaxEpochs:      cfg.Epochs,
		Patience:       cfg.Patience,
		MinDelta:       cfg.MinDelta,
		ConvergenceTol: DefaultConvergenceTol,
		Timeout:        cfg.FitTimeout,
		ModelDir:       cfg.ModelDir,
		Params: map[string]any{
			"epochs":        cfg.Epochs,
			"patience":      cfg.Patience,
			"min_delta":     cfg.MinDelta,
			"batch_size":    cfg.BatchSize,
			"learning_rate": cfg.LearningRate,
			"hidden":        []int{cfg.HiddenTabular, cfg.HiddenImage},
			"imbalance":     cfg.Imbalance,
			"image_shape":   cfg.ImageShape.String(),
			"horizon":       cfg.Horizon.String(),
			"churn_window":  cfg.ChurnWindow.String(),
			"seed":          cfg.Seed,
			"device":        cfg.Device,
		},
	}
}

// Run trains until a stop condition and returns the best model seen.
//
// On cancellation or an exhausted budget the best checkpoint so far is returned
// together with the error; an epoch that did not finish is never returned.
// A non-finite loss fails the run with TrainingDivergenceError and also returns
// the last good model.
func Run(ctx context.Context, ec *contract.ExecContext, t Trainable, train, val schema.Dataset, opts Options) (schema.TrainingResult, *model.TrainedModel, error) {
	r := newRunner(ec, t, opts)
	return r.run(ctx, train, val)
}

type runner struct {
	ec    *contract.ExecContext
	t     Trainable
	opts  Options
	log   *logrus.Entry
	store contract.RunStore

	result schema.TrainingResult
	best   *model.TrainedModel
	saved  []string
}

func newRunner(ec *contract.ExecContext, t Trainable, opts Options) *runner {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.ConvergenceTol <= 0 {
		opts.ConvergenceTol = DefaultConvergenceTol
	}
	return &runner{
		ec:     ec,
		t:      t,
		opts:   opts,
		log:    ec.Logger.WithFields(logrus.Fields{"stage": "train", "run_id": opts.RunID}),
		store:  ec.RunStore(),
		result: schema.TrainingResult{RunID: opts.RunID, State: schema.InitializedState},
	}
}

func (r *runner) run(ctx context.Context, train, val schema.Dataset) (schema.TrainingResult, *model.TrainedModel, error) {
	start := time.Now()
	if r.store != nil {
		if err := r.store.BeginRun(r.opts.RunID, RunKind, r.opts.RepoPath, start, r.opts.Params); err != nil {
			r.log.WithError(err).Warn("failed to record run start")
		}
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	r.result.State = schema.TrainingActiveState
	r.log.WithFields(logrus.Fields{"train": train.Len(), "val": val.Len(), "max_epochs": r.opts.MaxEpochs}).Info("training started")

	err := r.loop(ctx, train, val)
	r.result.Duration = time.Since(start)
	r.pruneCheckpoints()

	if r.store != nil {
		if serr := r.store.EndRun(r.opts.RunID, time.Now(), r.result); serr != nil {
			r.log.WithError(serr).Warn("failed to record run end")
		}
	}
	fields := logrus.Fields{
		"state":       r.result.State,
		"stop_reason": r.result.StopReason,
		"best_epoch":  r.result.BestEpoch,
		"best_metric": r.result.BestMetric,
		"duration":    r.result.Duration.Round(time.Millisecond),
	}
	if err != nil {
		r.log.WithFields(fields).WithError(err).Warn("training stopped")
	} else {
		r.log.WithFields(fields).Info("training finished")
	}
	return r.result, r.best, err
}

func (r *runner) loop(ctx context.Context, train, val schema.Dataset) error {
	prevLoss := math.NaN()
	sinceImproved := 0

	for epoch := 1; epoch <= r.opts.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return r.interrupted(epoch, err)
		}

		loss, err := r.t.TrainEpoch(ctx, train)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(epoch, ctx.Err())
			}
			return r.fail(schema.StopNone, fmt.Errorf("epoch %d failed: %w", epoch, err))
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return r.fail(schema.StopDiverged, &schema.TrainingDivergenceError{Epoch: epoch, Loss: loss})
		}

		eval, err := r.t.Validate(val)
		if err != nil {
			return r.fail(schema.StopNone, fmt.Errorf("validation failed at epoch %d: %w", epoch, err))
		}

		m := schema.EpochMetrics{Epoch: epoch, TrainLoss: loss, ValLoss: eval.LogLoss, ValAUC: eval.AUC, ValF1: eval.F1}
		if r.best == nil || eval.AUC > r.result.BestMetric+r.opts.MinDelta {
			if err := r.improve(epoch, eval.AUC); err != nil {
				return r.fail(schema.StopNone, err)
			}
			m.Improved = true
			sinceImproved = 0
		} else {
			sinceImproved++
		}
		r.record(m)

		switch {
		case r.opts.Patience > 0 && sinceImproved >= r.opts.Patience:
			r.stop(schema.EarlyStoppedState, schema.StopPatience)
			return nil
		case !math.IsNaN(prevLoss) && math.Abs(prevLoss-loss) < r.opts.ConvergenceTol:
			r.stop(schema.ConvergedState, schema.StopConverged)
			return nil
		}
		prevLoss = loss
	}
	r.stop(schema.MaxEpochsReachedState, schema.StopMaxEpochs)
	return nil
}

// improve snapshots the current weights as the new best and persists them.
func (r *runner) improve(epoch int, metric float64) error {
	snap := r.t.Snapshot(epoch, metric)
	if r.opts.ModelDir != "" {
		manifest, err := model.SaveCheckpoint(r.opts.ModelDir, snap)
		if err != nil {
			return fmt.Errorf("failed to save checkpoint at epoch %d: %w", epoch, err)
		}
		r.result.Manifest = &manifest
		r.saved = append(r.saved, manifest.ModelID)
		snap = snap.WithID(manifest.ModelID)
	}
	r.best = snap
	r.result.BestEpoch = epoch
	r.result.BestMetric = metric
	return nil
}

func (r *runner) record(m schema.EpochMetrics) {
	r.result.History = append(r.result.History, m)
	r.result.Epochs = m.Epoch
	r.log.WithFields(logrus.Fields{
		"epoch":      m.Epoch,
		"train_loss": m.TrainLoss,
		"val_loss":   m.ValLoss,
		"val_auc":    m.ValAUC,
		"improved":   m.Improved,
	}).Debug("epoch finished")
	if r.store != nil {
		if err := r.store.RecordEpoch(r.opts.RunID, m); err != nil {
			r.log.WithError(err).WithField("epoch", m.Epoch).Warn("failed to record epoch")
		}
	}
}

func (r *runner) stop(state schema.TrainingState, reason schema.StopReason) {
	r.result.State = state
	r.result.StopReason = reason
}

func (r *runner) fail(reason schema.StopReason, err error) error {
	r.stop(schema.FailedState, reason)
	return err
}

// interrupted handles cancellation and budget exhaustion. The run keeps its best
// model; without one there is nothing to fall back to and the run has failed.
func (r *runner) interrupted(epoch int, err error) error {
	reason := schema.StopCanceled
	var out error = fmt.Errorf("training canceled at epoch %d: %w", epoch, err)
	if errors.Is(err, context.DeadlineExceeded) && r.opts.Timeout > 0 {
		reason = schema.StopTimeout
		out = &schema.TimeoutError{Stage: "fit", Budget: r.opts.Timeout, Err: err}
	}
	if r.best == nil {
		return r.fail(reason, out)
	}
	r.stop(schema.EarlyStoppedState, reason)
	return out
}

// pruneCheckpoints removes checkpoints this run superseded.
func (r *runner) pruneCheckpoints() {
	if len(r.saved) < 2 {
		return
	}
	for _, id := range r.saved[:len(r.saved)-1] {
		if err := os.RemoveAll(filepath.Join(r.opts.ModelDir, id)); err != nil {
			r.log.WithError(err).WithField("model_id", id).Warn("failed to prune checkpoint")
		}
	}
	r.saved = r.saved[len(r.saved)-1:]
}
