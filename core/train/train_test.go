package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/huangsam/defectrisk/core/model"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testSchema = schema.TabularSchema{Names: []string{"churn", "age"}}
	testShape  = schema.ImageShape{H: 1, W: 2, C: 1}
)

func dataset(n int) schema.Dataset {
	ds := schema.Dataset{Schema: testSchema, Shape: testShape}
	for i := range n {
		positive := i%2 == 0
		signal := -1.0
		if positive {
			signal = 1.0
		}
		img := schema.NewTensor(testShape)
		img.Data[0] = (signal + 1) / 2
		ds.Records = append(ds.Records, schema.FeatureRecord{
			Unit:    schema.UnitID{Path: fmt.Sprintf("f%d.go", i), CommitID: "c"},
			Tabular: []float64{signal, float64(i)},
			Image:   img,
			Label:   &positive,
		})
	}
	return ds
}

func modelConfig() model.Config {
	return model.Config{Epochs: 10, BatchSize: 4, LearningRate: 0.05, HiddenTabular: 3, HiddenImage: 2, Seed: 3}
}

// scripted replays fixed losses and AUCs. Snapshots come from a real network so
// that checkpoints can be written and read back.
type scripted struct {
	net    *model.Network
	losses []float64
	aucs   []float64
	epoch  int

	// onEpoch runs before the epoch returns. A non-nil error aborts the epoch.
	onEpoch func(ctx context.Context, epoch int) error
}

func newScripted(t *testing.T, losses, aucs []float64) *scripted {
	t.Helper()
	net, err := model.NewNetwork(dataset(8), modelConfig())
	require.NoError(t, err)
	return &scripted{net: net, losses: losses, aucs: aucs}
}

func (s *scripted) TrainEpoch(ctx context.Context, _ schema.Dataset) (float64, error) {
	s.epoch++
	if s.onEpoch != nil {
		if err := s.onEpoch(ctx, s.epoch); err != nil {
			return 0, err
		}
	}
	return s.losses[s.epoch-1], nil
}

func (s *scripted) Validate(schema.Dataset) (schema.EvalMetrics, error) {
	return schema.EvalMetrics{AUC: s.aucs[s.epoch-1], LogLoss: s.losses[s.epoch-1]}, nil
}

func (s *scripted) Snapshot(epoch int, metric float64) *model.TrainedModel {
	return s.net.Snapshot(epoch, metric)
}

func newExecContext(mgr contract.CacheManager) *contract.ExecContext {
	return contract.NewExecContext(&contract.MockGitClient{}, mgr, contract.NewNopLogger(), schema.CPUDevice, 1)
}

func TestRunStopConditions(t *testing.T) {
	tests := []struct {
		name      string
		losses    []float64
		aucs      []float64
		opts      Options
		state     schema.TrainingState
		reason    schema.StopReason
		epochs    int
		bestEpoch int
	}{
		{
			name:   "patience",
			losses: []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4},
			aucs:   []float64{0.6, 0.7, 0.7, 0.70001, 0.65, 0.9},
			opts:   Options{MaxEpochs: 6, Patience: 2, MinDelta: 1e-3},
			state:  schema.EarlyStoppedState, reason: schema.StopPatience, epochs: 4, bestEpoch: 2,
		},
		{
			name:   "max epochs",
			losses: []float64{0.9, 0.8, 0.7},
			aucs:   []float64{0.6, 0.7, 0.8},
			opts:   Options{MaxEpochs: 3, Patience: 2},
			state:  schema.MaxEpochsReachedState, reason: schema.StopMaxEpochs, epochs: 3, bestEpoch: 3,
		},
		{
			name:   "converged",
			losses: []float64{0.9, 0.5, 0.5, 0.4},
			aucs:   []float64{0.6, 0.7, 0.8, 0.9},
			opts:   Options{MaxEpochs: 4, Patience: 3, ConvergenceTol: 1e-6},
			state:  schema.ConvergedState, reason: schema.StopConverged, epochs: 3, bestEpoch: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScripted(t, tt.losses, tt.aucs)
			result, best, err := Run(context.Background(), newExecContext(nil), s, dataset(4), dataset(4), tt.opts)
			require.NoError(t, err)

			assert.Equal(t, tt.state, result.State)
			assert.Equal(t, tt.reason, result.StopReason)
			assert.True(t, result.Succeeded())
			assert.Equal(t, tt.epochs, result.Epochs)
			assert.Len(t, result.History, tt.epochs)
			assert.Equal(t, tt.bestEpoch, result.BestEpoch)
			require.NotNil(t, best)
			assert.Equal(t, tt.bestEpoch, best.Epoch())
			assert.NotEmpty(t, result.RunID)
		})
	}
}

func TestRunPersistsBestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s := newScripted(t, []float64{0.9, 0.8, 0.7, 0.6}, []float64{0.6, 0.8, 0.7, 0.75})
	result, best, err := Run(context.Background(), newExecContext(nil), s, dataset(4), dataset(4),
		Options{MaxEpochs: 4, ModelDir: dir})
	require.NoError(t, err)

	require.NotNil(t, result.Manifest)
	assert.Equal(t, 2, result.Manifest.Epoch)
	assert.Equal(t, result.Manifest.ModelID, best.ID())

	loaded, manifest, err := model.LoadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, result.Manifest.ModelID, manifest.ModelID)
	assert.Equal(t, 2, loaded.Epoch())

	// superseded checkpoints are pruned: only the best model dir and the pointer remain
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newScripted(t, []float64{0.9, 0.8, 0.7, 0.6}, []float64{0.6, 0.8, 0.9, 0.95})
	s.onEpoch = func(ctx context.Context, epoch int) error {
		if epoch == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	result, best, err := Run(ctx, newExecContext(nil), s, dataset(4), dataset(4), Options{MaxEpochs: 4})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, schema.EarlyStoppedState, result.State)
	assert.Equal(t, schema.StopCanceled, result.StopReason)
	require.NotNil(t, best)
	assert.Equal(t, 2, best.Epoch(), "the interrupted epoch is never returned")
	assert.Len(t, result.History, 2)
}

func TestRunCanceledBeforeFirstEpoch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScripted(t, []float64{0.9}, []float64{0.6})
	result, best, err := Run(ctx, newExecContext(nil), s, dataset(4), dataset(4), Options{MaxEpochs: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, best)
	assert.Equal(t, schema.FailedState, result.State)
	assert.False(t, result.Succeeded())
}

func TestRunTimeout(t *testing.T) {
	s := newScripted(t, []float64{0.9, 0.8}, []float64{0.6, 0.7})
	s.onEpoch = func(ctx context.Context, epoch int) error {
		if epoch == 2 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	result, best, err := Run(context.Background(), newExecContext(nil), s, dataset(4), dataset(4),
		Options{MaxEpochs: 2, Timeout: 50 * time.Millisecond})
	var timeout *schema.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "fit", timeout.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, schema.StopTimeout, result.StopReason)
	require.NotNil(t, best)
	assert.Equal(t, 1, best.Epoch())
}

func TestRunDivergence(t *testing.T) {
	s := newScripted(t, []float64{0.9, math.Inf(1)}, []float64{0.6, 0.7})
	result, best, err := Run(context.Background(), newExecContext(nil), s, dataset(4), dataset(4), Options{MaxEpochs: 3})

	var diverged *schema.TrainingDivergenceError
	require.True(t, errors.As(err, &diverged))
	assert.Equal(t, 2, diverged.Epoch)
	assert.Equal(t, schema.FailedState, result.State)
	assert.Equal(t, schema.StopDiverged, result.StopReason)
	require.NotNil(t, best, "last good model is kept")
	assert.Equal(t, 1, best.Epoch())
}

func TestRunRecordsToRunStore(t *testing.T) {
	store := &iocache.MockRunStore{}
	store.On("BeginRun", "run-42", RunKind, "/repo", mock.Anything, mock.Anything).Return(nil)
	store.On("RecordEpoch", "run-42", mock.Anything).Return(nil).Times(2)
	store.On("EndRun", "run-42", mock.Anything, mock.MatchedBy(func(r schema.TrainingResult) bool {
		return r.State == schema.MaxEpochsReachedState && r.BestEpoch == 2
	})).Return(nil)

	mgr := &iocache.MockCacheManager{}
	mgr.On("GetRunStore").Return(store)

	s := newScripted(t, []float64{0.9, 0.8}, []float64{0.6, 0.7})
	_, _, err := Run(context.Background(), newExecContext(mgr), s, dataset(4), dataset(4),
		Options{RunID: "run-42", RepoPath: "/repo", MaxEpochs: 2})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRunStoreFailuresDoNotStopTraining(t *testing.T) {
	store := &iocache.MockRunStore{}
	store.On("BeginRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	store.On("RecordEpoch", mock.Anything, mock.Anything).Return(errors.New("db down"))
	store.On("EndRun", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	mgr := &iocache.MockCacheManager{}
	mgr.On("GetRunStore").Return(store)

	s := newScripted(t, []float64{0.9}, []float64{0.6})
	result, _, err := Run(context.Background(), newExecContext(mgr), s, dataset(4), dataset(4), Options{MaxEpochs: 1})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
}

func TestRunWithRealNetwork(t *testing.T) {
	train, val := dataset(40), dataset(12)
	net, err := model.NewNetwork(train, modelConfig())
	require.NoError(t, err)

	result, best, err := Run(context.Background(), newExecContext(nil), net, train, val,
		Options{MaxEpochs: 15, Patience: 5, ModelDir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	require.NotNil(t, best)

	eval, err := model.Evaluate(best, val)
	require.NoError(t, err)
	assert.InDelta(t, result.BestMetric, eval.AUC, 1e-12)
}
