package schedule

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometric_Properties(t *testing.T) {
	tests := []struct {
		name      string
		high, low float64
		numL      int
	}{
		{"default", 1.0, 0.01, 10},
		{"two levels", 50, 0.01, 2},
		{"cifar", 50, 0.01, 232},
		{"narrow", 0.6, 0.59, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigmas, err := Geometric(tt.high, tt.low, tt.numL)
			require.NoError(t, err)

			assert.Equal(t, tt.numL, sigmas.Len())
			assert.Equal(t, tt.high, sigmas.First())
			assert.Equal(t, tt.low, sigmas.Last())
			assert.NoError(t, sigmas.Validate())

			for i := 1; i < sigmas.Len(); i++ {
				assert.Less(t, sigmas[i], sigmas[i-1], "level %d", i)
			}
		})
	}
}

func TestGeometric_ConstantRatio(t *testing.T) {
	sigmas, err := Geometric(1.0, 0.01, 10)
	require.NoError(t, err)

	want := math.Pow(0.01, 1.0/9.0)
	for i := 1; i < sigmas.Len(); i++ {
		assert.InDelta(t, want, sigmas[i]/sigmas[i-1], 1e-12)
	}
}

func TestGeometric_SingleLevel(t *testing.T) {
	sigmas, err := Geometric(1.0, 0.01, 1)
	require.NoError(t, err)
	assert.Equal(t, Sigmas{1.0}, sigmas)
	assert.Equal(t, 1e-5, sigmas.StepSize(0, 1e-5))
}

func TestGeometric_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		high, low float64
		numL      int
		want      error
	}{
		{"zero levels", 1, 0.01, 0, ErrInvalidLevels},
		{"inverted", 0.01, 1, 10, ErrInvalidBounds},
		{"equal", 1, 1, 10, ErrInvalidBounds},
		{"zero low", 1, 0, 10, ErrInvalidBounds},
		{"negative", -1, -2, 10, ErrInvalidBounds},
		{"nan", math.NaN(), 0.01, 10, ErrInvalidBounds},
		{"inf", math.Inf(1), 0.01, 10, ErrInvalidBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Geometric(tt.high, tt.low, tt.numL)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.Cause(err))
		})
	}
}

func TestStepSize(t *testing.T) {
	sigmas, err := Geometric(1.0, 0.01, 10)
	require.NoError(t, err)

	eps := 2e-5
	assert.InDelta(t, eps*1e4, sigmas.StepSize(0, eps), 1e-12)
	assert.Equal(t, eps, sigmas.StepSize(9, eps))
	for i := 1; i < sigmas.Len(); i++ {
		assert.Less(t, sigmas.StepSize(i, eps), sigmas.StepSize(i-1, eps))
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Sigmas{3, 2, 1}.Validate())
	assert.Error(t, Sigmas{}.Validate())
	assert.Error(t, Sigmas{3, 3, 1}.Validate())
	assert.Error(t, Sigmas{3, 2, 0}.Validate())
}
