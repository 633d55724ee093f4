// Package multiomics implements the fusion model that turns three per-patient
// omics profiles into one risk score and one latent embedding per patient.
// It is inference-only: weights are either loaded or initialized from a seed.
package multiomics

import (
	"fmt"

	"github.com/RuoyuGao1/cancer-system/internal/domain/omics"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// ---------------------------------------------------------------------------
// Model configuration
// ---------------------------------------------------------------------------

// ModelConfig fixes every layer dimension of the model for one run. Input
// widths come from the aligned cohort; the rest from configuration.
type ModelConfig struct {
	// InputWidths is the feature width of each modality, indexed by
	// omics.Modality.
	InputWidths [omics.NumModalities]int `json:"input_widths"`

	// HiddenWidth is the output width shared by every modality encoder.
	HiddenWidth int `json:"hidden_width"`

	// FusionWidths are the widths of the rectified fusion layers.
	FusionWidths []int `json:"fusion_widths"`

	// EmbeddingWidth is E; the model emits 1+E values per patient.
	EmbeddingWidth int `json:"embedding_width"`
}

// Default dimensions of the reference configuration.
const (
	DefaultHiddenWidth    = 512
	DefaultEmbeddingWidth = 32
)

// DefaultFusionWidths returns the reference fusion layer widths.
func DefaultFusionWidths() []int { return []int{256, 64} }

// NewModelConfig builds a config for the given cohort widths.
func NewModelConfig(inputWidths [omics.NumModalities]int, hidden int, fusion []int, embedding int) ModelConfig {
	f := make([]int, len(fusion))
	copy(f, fusion)
	return ModelConfig{
		InputWidths:    inputWidths,
		HiddenWidth:    hidden,
		FusionWidths:   f,
		EmbeddingWidth: embedding,
	}
}

// Validate checks that every dimension is positive.
func (c ModelConfig) Validate() error {
	for _, m := range omics.Modalities {
		if c.InputWidths[m] <= 0 {
			return errors.Newf(errors.CodeModelConfigInvalid, "%s input width must be positive, got %d", m, c.InputWidths[m])
		}
	}
	if c.HiddenWidth <= 0 {
		return errors.Newf(errors.CodeModelConfigInvalid, "hidden_width must be positive, got %d", c.HiddenWidth)
	}
	if len(c.FusionWidths) == 0 {
		return errors.New(errors.CodeModelConfigInvalid, "fusion_widths must not be empty")
	}
	for i, w := range c.FusionWidths {
		if w <= 0 {
			return errors.Newf(errors.CodeModelConfigInvalid, "fusion_widths[%d] must be positive, got %d", i, w)
		}
	}
	if c.EmbeddingWidth <= 0 {
		return errors.Newf(errors.CodeModelConfigInvalid, "embedding_width must be positive, got %d", c.EmbeddingWidth)
	}
	return nil
}

// OutputWidth is 1 + EmbeddingWidth.
func (c ModelConfig) OutputWidth() int { return 1 + c.EmbeddingWidth }

// ---------------------------------------------------------------------------
// Layer layout
// ---------------------------------------------------------------------------

// LayerShape names one affine layer and its dimensions.
type LayerShape struct {
	Name string
	In   int
	Out  int
}

// EncoderLayerName is the weights key of a modality encoder.
func EncoderLayerName(m omics.Modality) string { return "encoder." + m.String() }

// FusionLayerName is the weights key of the i-th fusion hidden layer.
func FusionLayerName(i int) string { return fmt.Sprintf("fusion.%d", i) }

// OutputLayerName is the weights key of the final projection.
const OutputLayerName = "output"

// Layers lists every affine layer in initialization order: the encoders in
// fusion order, then the fusion layers, then the output layer.
func (c ModelConfig) Layers() []LayerShape {
	shapes := make([]LayerShape, 0, omics.NumModalities+len(c.FusionWidths)+1)
	for _, m := range omics.Modalities {
		shapes = append(shapes, LayerShape{Name: EncoderLayerName(m), In: c.InputWidths[m], Out: c.HiddenWidth})
	}
	in := c.HiddenWidth * omics.NumModalities
	for i, w := range c.FusionWidths {
		shapes = append(shapes, LayerShape{Name: FusionLayerName(i), In: in, Out: w})
		in = w
	}
	shapes = append(shapes, LayerShape{Name: OutputLayerName, In: in, Out: c.OutputWidth()})
	return shapes
}
