package multiomics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

func TestNewLinear_BiasMismatch(t *testing.T) {
	_, err := NewLinear(mat.NewDense(2, 3, nil), []float64{1})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeModelWeights))
}

func TestLinear_Forward(t *testing.T) {
	l, err := NewLinear(mat.NewDense(2, 3, []float64{
		1, 0, -1,
		2, 1, 0,
	}), []float64{0.5, -1})
	require.NoError(t, err)
	assert.Equal(t, 3, l.In())
	assert.Equal(t, 2, l.Out())

	y, err := l.Forward(mat.NewDense(2, 3, []float64{
		1, 2, 3,
		0, 0, 0,
	}))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.5, 3}, y.RawRowView(0))
	assert.Equal(t, []float64{0.5, -1}, y.RawRowView(1))
}

func TestLinear_ForwardWidthMismatch(t *testing.T) {
	l, err := NewLinear(mat.NewDense(1, 2, nil), []float64{0})
	require.NoError(t, err)

	_, err = l.Forward(mat.NewDense(1, 3, nil))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeWidthMismatch))
	assert.Contains(t, err.Error(), "expected=2 actual=3")
}

func TestReLU(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{-2, 0, 1.5, -0.1})
	relu(m)
	assert.Equal(t, []float64{0, 0, 1.5, 0}, m.RawRowView(0))
}
