package vector

import (
	"errors"
	"math"
	"testing"
)

// tolerance is the acceptable floating point error for similarity results.
const tolerance = 1e-9

func Test_CosineSimilarity_SelfIsOne(t *testing.T) {
	t.Parallel()

	vectors := [][]float32{
		{1},
		{0.5, -0.25, 3},
		{0.001, 0.002, 0.003, 0.004},
	}
	for _, v := range vectors {
		got, err := CosineSimilarity(v, v)
		if err != nil {
			t.Fatalf("self similarity: %v", err)
		}
		if math.Abs(got-1.0) > tolerance {
			t.Errorf("similarity(v, v) = %v, want 1.0", got)
		}
	}
}

func Test_CosineSimilarity_KnownValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 2}, []float32{2, 4}, 1},
		{"halfway", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2},
	}
	for _, tc := range cases {
		got, err := CosineSimilarity(tc.a, tc.b)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if math.Abs(got-tc.want) > tolerance {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func Test_CosineSimilarity_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("want ErrDimensionMismatch, got %v", err)
	}
}

func Test_CosineSimilarity_ZeroVector(t *testing.T) {
	t.Parallel()

	_, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	if !errors.Is(err, ErrZeroMagnitude) {
		t.Errorf("zero query: want ErrZeroMagnitude, got %v", err)
	}

	_, err = CosineSimilarity([]float32{1, 2, 3}, []float32{0, 0, 0})
	if !errors.Is(err, ErrZeroMagnitude) {
		t.Errorf("zero candidate: want ErrZeroMagnitude, got %v", err)
	}

	_, err = CosineSimilarity(nil, nil)
	if !errors.Is(err, ErrZeroMagnitude) {
		t.Errorf("empty vectors: want ErrZeroMagnitude, got %v", err)
	}
}
