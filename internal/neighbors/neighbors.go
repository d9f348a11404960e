// Package neighbors finds the training images closest to a generated sample,
// to check whether a model reproduces its training set.
package neighbors

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/ncsn/internal/parallel"
	"github.com/born-ml/ncsn/internal/tensor"
)

// Match is one neighbour: its index in the data set and its L2 distance.
type Match struct {
	Index    int
	Distance float64
}

// KClosest returns the k images of data ([N, H, W, C]) nearest to sample
// ([H, W, C] or [1, H, W, C]) in Euclidean distance, closest first.
// Ties are broken by index. k is capped at N.
func KClosest(sample, data *tensor.Tensor, k int) ([]Match, error) {
	if k <= 0 {
		return nil, errors.Errorf("k must be positive, got %d", k)
	}
	query := sample.Data()
	n := data.BatchSize()
	if n == 0 || data.NumElements()/n != len(query) {
		return nil, errors.Errorf("sample %v does not match data %v", sample.Shape(), data.Shape())
	}

	matches := make([]Match, n)
	parallel.For(n, func(i int) {
		matches[i] = Match{Index: i, Distance: floats.Distance(query, data.Batch(i).Data(), 2)}
	}, parallel.DefaultConfig())

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Distance < matches[b].Distance
	})
	return matches[:min(k, n)], nil
}
