package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/huangsam/defectrisk/schema"
)

// Network is the mutable training state. It is not safe for concurrent use.
type Network struct {
	w    weights
	cfg  Config
	opt  *adam
	grad params
	act  *activations
	rng  *rand.Rand
}

// NewNetwork initialises a network for the schema and shape of train.
// Standardisation statistics come from train only.
func NewNetwork(train schema.Dataset, cfg Config) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if train.Len() == 0 {
		return nil, fmt.Errorf("cannot initialise network: %w", ErrEmptyDataset)
	}
	if !train.Shape.Valid() {
		return nil, fmt.Errorf("invalid image shape %s", train.Shape)
	}

	nt, ni := train.Schema.Len(), train.Shape.Size()
	w := weights{
		Schema:        train.Schema,
		Shape:         train.Shape,
		HiddenTabular: cfg.HiddenTabular,
		HiddenImage:   cfg.HiddenImage,
		Params:        newParams(nt, ni, cfg.HiddenTabular, cfg.HiddenImage),
	}
	if err := w.checkRecords(train.Records); err != nil {
		return nil, err
	}
	w.Mean, w.Std = standardisation(train.Records, nt)

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), initStream))
	heInit(rng, w.Params.TabW, nt)
	heInit(rng, w.Params.ImgW, ni)
	heInit(rng, w.Params.OutW, cfg.HiddenTabular+cfg.HiddenImage)

	return &Network{
		w:    w,
		cfg:  cfg,
		opt:  newAdam(cfg.LearningRate, &w.Params),
		grad: newParams(nt, ni, cfg.HiddenTabular, cfg.HiddenImage),
		act:  w.newActivations(),
		rng:  rng,
	}, nil
}

// Schema returns the tabular schema the network was built for.
func (n *Network) Schema() schema.TabularSchema { return n.w.Schema }

// Shape returns the image shape the network was built for.
func (n *Network) Shape() schema.ImageShape { return n.w.Shape }

// TrainEpoch runs one shuffled pass over ds in mini-batches and returns the mean
// weighted training loss. The context is checked between batches; on
// cancellation the partially trained weights are left in place and must not be
// snapshotted by the caller.
func (n *Network) TrainEpoch(ctx context.Context, ds schema.Dataset) (float64, error) {
	if ds.Len() == 0 {
		return 0, fmt.Errorf("cannot train: %w", ErrEmptyDataset)
	}
	if err := n.w.checkSchema("training dataset", ds.Schema, ds.Shape); err != nil {
		return 0, err
	}
	if err := n.w.checkRecords(ds.Records); err != nil {
		return 0, err
	}

	order := n.rng.Perm(ds.Len())
	var total float64
	for start := 0; start < len(order); start += n.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch := order[start:min(start+n.cfg.BatchSize, len(order))]
		n.grad.zero()
		scale := 1 / float64(len(batch))
		for _, i := range batch {
			r := ds.Records[i]
			y := r.Positive()
			wt := ds.Weight(i)
			p := n.w.forward(r.Tabular, r.Image.Data, n.act)
			total += wt * binaryCrossEntropy(p, y)
			n.w.backward(r.Image.Data, n.act, wt*(p-label(y))*scale, &n.grad)
		}
		n.opt.step(&n.w.Params, &n.grad)
	}
	return total / float64(ds.Len()), nil
}

// Validate scores ds with the current weights.
func (n *Network) Validate(ds schema.Dataset) (schema.EvalMetrics, error) {
	if err := n.w.checkSchema("validation dataset", ds.Schema, ds.Shape); err != nil {
		return schema.EvalMetrics{}, err
	}
	if err := n.w.checkRecords(ds.Records); err != nil {
		return schema.EvalMetrics{}, err
	}
	return scoreDataset(n.w.predict(ds.Records), ds)
}

// Snapshot freezes the current weights into an immutable model.
func (n *Network) Snapshot(epoch int, metric float64) *TrainedModel {
	return &TrainedModel{w: n.w.clone(), epoch: epoch, metric: metric, device: n.cfg.Device}
}

// TrainedModel is an immutable classifier bound to one schema and shape.
// It is safe for concurrent use.
type TrainedModel struct {
	w      weights
	id     string
	epoch  int
	metric float64
	device schema.Device
}

// ID returns the checkpoint id, or "" for a model that was never saved or loaded.
func (m *TrainedModel) ID() string { return m.id }

// WithID returns a copy of m carrying the checkpoint id. The weights are shared.
func (m *TrainedModel) WithID(id string) *TrainedModel {
	out := *m
	out.id = id
	return &out
}

// Epoch returns the epoch the weights were taken from.
func (m *TrainedModel) Epoch() int { return m.epoch }

// Metric returns the validation metric at snapshot time.
func (m *TrainedModel) Metric() float64 { return m.metric }

// Schema returns the tabular schema the model expects.
func (m *TrainedModel) Schema() schema.TabularSchema {
	return schema.TabularSchema{Names: append([]string(nil), m.w.Schema.Names...)}
}

// Shape returns the image shape the model expects.
func (m *TrainedModel) Shape() schema.ImageShape { return m.w.Shape }

// CheckSchema returns a SchemaMismatchError when sch or shape differ from the model's.
func (m *TrainedModel) CheckSchema(sch schema.TabularSchema, shape schema.ImageShape) error {
	return m.w.checkSchema("model "+m.id, sch, shape)
}

// Predict returns one probability per record, in input order.
func (m *TrainedModel) Predict(records []schema.FeatureRecord) ([]float64, error) {
	if err := m.w.checkRecords(records); err != nil {
		return nil, err
	}
	return m.w.predict(records), nil
}

// Predict returns one probability in [0,1] per record, aligned with the input.
func Predict(m *TrainedModel, records []schema.FeatureRecord) ([]float64, error) {
	return m.Predict(records)
}

// Evaluate scores a labeled dataset.
func Evaluate(m *TrainedModel, ds schema.Dataset) (schema.EvalMetrics, error) {
	if err := m.CheckSchema(ds.Schema, ds.Shape); err != nil {
		return schema.EvalMetrics{}, err
	}
	probs, err := m.Predict(ds.Records)
	if err != nil {
		return schema.EvalMetrics{}, err
	}
	return scoreDataset(probs, ds)
}

func scoreDataset(probs []float64, ds schema.Dataset) (schema.EvalMetrics, error) {
	if ds.Len() == 0 {
		return schema.EvalMetrics{}, fmt.Errorf("cannot evaluate: %w", ErrEmptyDataset)
	}
	labels := make([]bool, ds.Len())
	for i, r := range ds.Records {
		if r.Label == nil {
			return schema.EvalMetrics{}, fmt.Errorf("cannot evaluate unlabeled record %s", r.Unit)
		}
		labels[i] = *r.Label
	}
	return ComputeMetrics(probs, labels), nil
}

func label(y bool) float64 {
	if y {
		return 1
	}
	return 0
}

// adam is the Adam optimiser with the usual default moments.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  params
}

func newAdam(lr float64, p *params) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     p.clone(),
		v:     p.clone(),
	}
}

func (a *adam) step(p, g *params) {
	if a.t == 0 {
		a.m.zero()
		a.v.zero()
	}
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	ps, gs, ms, vs := p.all(), g.all(), a.m.all(), a.v.all()
	for k := range ps {
		for i, gi := range gs[k] {
			ms[k][i] = a.beta1*ms[k][i] + (1-a.beta1)*gi
			vs[k][i] = a.beta2*vs[k][i] + (1-a.beta2)*gi*gi
			ps[k][i] -= a.lr * (ms[k][i] / c1) / (math.Sqrt(vs[k][i]/c2) + a.eps)
		}
	}
}
