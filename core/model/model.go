// Package model implements the two-branch defect classifier.
//
// The tabular branch standardises its inputs with train-set statistics and feeds a
// dense ReLU layer. The image branch flattens the raster into another dense ReLU
// layer. Both are concatenated into a single sigmoid output trained with Adam on
// weighted binary cross-entropy.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// probEpsilon keeps log-loss finite at saturated probabilities.
const probEpsilon = 1e-7

// initStream separates the weight-init RNG from the dataset sampling RNG of the same seed.
const initStream = 0x1417

// ErrEmptyDataset is returned when a fit or evaluation gets no records.
var ErrEmptyDataset = errors.New("dataset is empty")

// Config holds the hyper-parameters of one fit.
type Config struct {
	Epochs        int
	BatchSize     int
	LearningRate  float64
	HiddenTabular int
	HiddenImage   int
	Seed          int64
	Device        schema.Device
}

// ConfigFrom extracts the model settings from the validated configuration.
func ConfigFrom(cfg *contract.Config) Config {
	return Config{
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		LearningRate:  cfg.LearningRate,
		HiddenTabular: cfg.HiddenTabular,
		HiddenImage:   cfg.HiddenImage,
		Seed:          cfg.Seed,
		Device:        cfg.Device,
	}
}

func (c Config) validate() error {
	switch {
	case c.HiddenTabular <= 0 || c.HiddenImage <= 0:
		return fmt.Errorf("hidden layer sizes must be positive, got %d,%d", c.HiddenTabular, c.HiddenImage)
	case c.LearningRate <= 0 || math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0):
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// params are the trainable tensors, stored flat and row-major.
type params struct {
	TabW []float64 // HiddenTabular x tabular inputs
	TabB []float64
	ImgW []float64 // HiddenImage x image inputs
	ImgB []float64
	OutW []float64 // HiddenTabular + HiddenImage
	OutB []float64 // single bias
}

func newParams(tabIn, imgIn, ht, hi int) params {
	return params{
		TabW: make([]float64, ht*tabIn),
		TabB: make([]float64, ht),
		ImgW: make([]float64, hi*imgIn),
		ImgB: make([]float64, hi),
		OutW: make([]float64, ht+hi),
		OutB: make([]float64, 1),
	}
}

// all returns views over every tensor. Writes through the views update p.
func (p *params) all() [][]float64 {
	return [][]float64{p.TabW, p.TabB, p.ImgW, p.ImgB, p.OutW, p.OutB}
}

func (p *params) zero() {
	for _, t := range p.all() {
		clear(t)
	}
}

func (p *params) clone() params {
	return params{
		TabW: slices.Clone(p.TabW),
		TabB: slices.Clone(p.TabB),
		ImgW: slices.Clone(p.ImgW),
		ImgB: slices.Clone(p.ImgB),
		OutW: slices.Clone(p.OutW),
		OutB: slices.Clone(p.OutB),
	}
}

// weights is everything needed to run inference. It is also the gob blob of a checkpoint.
type weights struct {
	Schema        schema.TabularSchema
	Shape         schema.ImageShape
	HiddenTabular int
	HiddenImage   int
	Mean          []float64
	Std           []float64
	Params        params
}

func (w *weights) clone() weights {
	c := *w
	c.Schema = schema.TabularSchema{Names: slices.Clone(w.Schema.Names)}
	c.Mean = slices.Clone(w.Mean)
	c.Std = slices.Clone(w.Std)
	c.Params = w.Params.clone()
	return c
}

// validate checks internal consistency, which matters for blobs read from disk.
func (w *weights) validate() error {
	nt, ni := w.Schema.Len(), w.Shape.Size()
	ht, hi := w.HiddenTabular, w.HiddenImage
	switch {
	case !w.Shape.Valid() || ht <= 0 || hi <= 0:
		return fmt.Errorf("invalid model dimensions %s hidden=%d,%d", w.Shape, ht, hi)
	case len(w.Mean) != nt || len(w.Std) != nt:
		return fmt.Errorf("standardisation has %d/%d entries for %d features", len(w.Mean), len(w.Std), nt)
	case len(w.Params.TabW) != ht*nt || len(w.Params.TabB) != ht,
		len(w.Params.ImgW) != hi*ni || len(w.Params.ImgB) != hi,
		len(w.Params.OutW) != ht+hi || len(w.Params.OutB) != 1:
		return errors.New("parameter tensors do not match model dimensions")
	}
	return nil
}

// activations are the per-record intermediate values kept for backprop.
type activations struct {
	xt, z1, a1, z2, a2 []float64
}

func (w *weights) newActivations() *activations {
	return &activations{
		xt: make([]float64, w.Schema.Len()),
		z1: make([]float64, w.HiddenTabular),
		a1: make([]float64, w.HiddenTabular),
		z2: make([]float64, w.HiddenImage),
		a2: make([]float64, w.HiddenImage),
	}
}

// forward returns the positive-class probability of one record.
func (w *weights) forward(tab, img []float64, act *activations) float64 {
	nt, ni := len(w.Mean), w.Shape.Size()
	for j := range nt {
		act.xt[j] = (tab[j] - w.Mean[j]) / w.Std[j]
	}
	for h := range w.HiddenTabular {
		s := w.Params.TabB[h]
		row := w.Params.TabW[h*nt : (h+1)*nt]
		for j, x := range act.xt {
			s += row[j] * x
		}
		act.z1[h] = s
		act.a1[h] = max(s, 0)
	}
	for h := range w.HiddenImage {
		s := w.Params.ImgB[h]
		row := w.Params.ImgW[h*ni : (h+1)*ni]
		for j, x := range img {
			if x != 0 {
				s += row[j] * x
			}
		}
		act.z2[h] = s
		act.a2[h] = max(s, 0)
	}

	z := w.Params.OutB[0]
	for h, a := range act.a1 {
		z += w.Params.OutW[h] * a
	}
	for h, a := range act.a2 {
		z += w.Params.OutW[w.HiddenTabular+h] * a
	}
	return sigmoid(z)
}

// backward accumulates into g the gradient of a loss whose derivative
// with respect to the output logit is dz.
func (w *weights) backward(img []float64, act *activations, dz float64, g *params) {
	nt, ni := len(w.Mean), w.Shape.Size()
	ht := w.HiddenTabular

	g.OutB[0] += dz
	for h := range ht {
		g.OutW[h] += dz * act.a1[h]
		if act.z1[h] <= 0 {
			continue
		}
		d := dz * w.Params.OutW[h]
		g.TabB[h] += d
		row := g.TabW[h*nt : (h+1)*nt]
		for j, x := range act.xt {
			row[j] += d * x
		}
	}
	for h := range w.HiddenImage {
		g.OutW[ht+h] += dz * act.a2[h]
		if act.z2[h] <= 0 {
			continue
		}
		d := dz * w.Params.OutW[ht+h]
		g.ImgB[h] += d
		row := g.ImgW[h*ni : (h+1)*ni]
		for j, x := range img {
			if x != 0 {
				row[j] += d * x
			}
		}
	}
}

// checkRecords verifies every record fits the tabular width and image shape of w.
func (w *weights) checkRecords(records []schema.FeatureRecord) error {
	for _, r := range records {
		if len(r.Tabular) != w.Schema.Len() || r.Image.Shape != w.Shape || len(r.Image.Data) != w.Shape.Size() {
			return &schema.SchemaMismatchError{
				Context:       "record " + r.Unit.String(),
				Expected:      w.Schema,
				Actual:        positionalSchema(w.Schema, len(r.Tabular)),
				ExpectedShape: w.Shape,
				ActualShape:   r.Image.Shape,
			}
		}
	}
	return nil
}

// checkSchema verifies a named schema and shape against w.
func (w *weights) checkSchema(where string, sch schema.TabularSchema, shape schema.ImageShape) error {
	if !w.Schema.Equal(sch) || w.Shape != shape {
		return &schema.SchemaMismatchError{
			Context:       where,
			Expected:      w.Schema,
			Actual:        sch,
			ExpectedShape: w.Shape,
			ActualShape:   shape,
		}
	}
	return nil
}

func (w *weights) predict(records []schema.FeatureRecord) []float64 {
	act := w.newActivations()
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = w.forward(r.Tabular, r.Image.Data, act)
	}
	return out
}

// positionalSchema names n fields after sch, inventing names past its end.
func positionalSchema(sch schema.TabularSchema, n int) schema.TabularSchema {
	names := make([]string, n)
	for i := range names {
		if i < sch.Len() {
			names[i] = sch.Names[i]
		} else {
			names[i] = fmt.Sprintf("field_%d", i)
		}
	}
	return schema.TabularSchema{Names: names}
}

// standardisation returns per-feature mean and std over the records. Constant
// features get a std of 1 so they standardise to zero instead of dividing by zero.
func standardisation(records []schema.FeatureRecord, n int) ([]float64, []float64) {
	mean := make([]float64, n)
	std := make([]float64, n)
	for _, r := range records {
		for j, v := range r.Tabular {
			mean[j] += v
		}
	}
	count := float64(len(records))
	for j := range mean {
		mean[j] /= count
	}
	for _, r := range records {
		for j, v := range r.Tabular {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / count)
		if std[j] < 1e-12 {
			std[j] = 1
		}
	}
	return mean, std
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// binaryCrossEntropy is the log-loss of probability p against label y.
func binaryCrossEntropy(p float64, y bool) float64 {
	p = math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
	if y {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

func heInit(rng *rand.Rand, t []float64, fanIn int) {
	scale := math.Sqrt(2 / float64(max(fanIn, 1)))
	for i := range t {
		t[i] = rng.NormFloat64() * scale
	}
}
