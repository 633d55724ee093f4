// Package omics models the per-patient molecular measurements consumed by the
// fusion model: the closed set of modalities, canonical sample identifiers,
// raw source tables and the aligned cohort.
package omics

import (
	"fmt"
	"strings"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Modality is one biological measurement type.
type Modality int

const (
	Methylation Modality = iota
	Expression
	Mutation

	// NumModalities is the size of the closed modality set.
	NumModalities = 3
)

// Modalities lists every modality in fusion order. Latents are concatenated
// in exactly this order; changing it changes model output.
var Modalities = [NumModalities]Modality{Methylation, Expression, Mutation}

var modalityNames = [NumModalities]string{"methylation", "expression", "mutation"}

// String returns the lowercase modality name.
func (m Modality) String() string {
	if !m.Valid() {
		return fmt.Sprintf("modality(%d)", int(m))
	}
	return modalityNames[m]
}

// Valid reports whether m belongs to the closed set.
func (m Modality) Valid() bool {
	return m >= 0 && int(m) < NumModalities
}

// ParseModality resolves a name, accepting "rna" as an alias of expression.
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "methylation":
		return Methylation, nil
	case "expression", "rna":
		return Expression, nil
	case "mutation":
		return Mutation, nil
	}
	return 0, errors.Newf(errors.CodeInvalidParam, "unknown modality %q", s)
}
