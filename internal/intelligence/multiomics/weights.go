package multiomics

import (
	"encoding/json"
	"io"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// WeightsFormat identifies the weights document layout.
const WeightsFormat = "oncofuse-weights/v1"

// Weights holds every affine layer of the model by name.
type Weights struct {
	layers map[string]*Linear
}

// NewWeights returns an empty set.
func NewWeights() *Weights {
	return &Weights{layers: make(map[string]*Linear)}
}

// Set stores layer under name.
func (w *Weights) Set(name string, layer *Linear) { w.layers[name] = layer }

// Names returns the stored layer names sorted.
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.layers))
	for n := range w.layers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Layer returns the layer described by shape, checking its dimensions.
func (w *Weights) Layer(shape LayerShape) (*Linear, error) {
	l, ok := w.layers[shape.Name]
	if !ok {
		return nil, errors.New(errors.CodeModelWeights, "weights are missing a layer").
			WithDetailf("layer=%s", shape.Name)
	}
	if l.Out() != shape.Out || l.In() != shape.In {
		return nil, errors.New(errors.CodeModelWeights, "layer shape does not match the run").
			WithDetailf("layer=%s expected=%dx%d actual=%dx%d", shape.Name, shape.Out, shape.In, l.Out(), l.In())
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Seeded initialization
// ---------------------------------------------------------------------------

// InitWeights draws every weight and bias uniformly from
// (-1/sqrt(in), 1/sqrt(in)), layer by layer in cfg.Layers() order, weights
// row-major before bias. The same cfg and seed always produce the same
// weights.
func InitWeights(cfg ModelConfig, seed int64) (*Weights, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewSource(uint64(seed))

	w := NewWeights()
	for _, s := range cfg.Layers() {
		bound := 1 / math.Sqrt(float64(s.In))
		dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
		data := make([]float64, s.Out*s.In)
		for i := range data {
			data[i] = dist.Rand()
		}
		bias := make([]float64, s.Out)
		for i := range bias {
			bias[i] = dist.Rand()
		}
		w.Set(s.Name, &Linear{Weight: mat.NewDense(s.Out, s.In, data), Bias: bias})
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

type weightsDocument struct {
	Format string          `json:"format"`
	Layers []layerDocument `json:"layers"`
}

type layerDocument struct {
	Name   string    `json:"name"`
	Shape  [2]int    `json:"shape"` // [out, in]
	Weight []float64 `json:"weight"`
	Bias   []float64 `json:"bias"`
}

// Save writes w as a JSON weights document.
func (w *Weights) Save(out io.Writer) error {
	doc := weightsDocument{Format: WeightsFormat}
	for _, name := range w.Names() {
		l := w.layers[name]
		doc.Layers = append(doc.Layers, layerDocument{
			Name:   name,
			Shape:  [2]int{l.Out(), l.In()},
			Weight: mat.DenseCopyOf(l.Weight).RawMatrix().Data,
			Bias:   l.Bias,
		})
	}
	enc := json.NewEncoder(out)
	return errors.Wrap(enc.Encode(doc), errors.CodeSerialization, "encode weights")
}

// LoadWeights reads a JSON weights document.
func LoadWeights(in io.Reader) (*Weights, error) {
	var doc weightsDocument
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeModelWeights, "decode weights")
	}
	if doc.Format != WeightsFormat {
		return nil, errors.New(errors.CodeModelWeights, "unsupported weights format").
			WithDetailf("format=%q", doc.Format)
	}

	w := NewWeights()
	for _, ld := range doc.Layers {
		out, in := ld.Shape[0], ld.Shape[1]
		if out <= 0 || in <= 0 || len(ld.Weight) != out*in {
			return nil, errors.New(errors.CodeModelWeights, "layer data does not match its shape").
				WithDetailf("layer=%s shape=%dx%d values=%d", ld.Name, out, in, len(ld.Weight))
		}
		l, err := NewLinear(mat.NewDense(out, in, ld.Weight), ld.Bias)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeModelWeights, "layer %s", ld.Name)
		}
		w.Set(ld.Name, l)
	}
	return w, nil
}
