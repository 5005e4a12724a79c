package phenomorph

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_DisjointAndComplete(t *testing.T) {
	for n := 1; n <= 25; n++ {
		records := makeRecords(n, 3)
		for _, ratio := range []float64{0.05, 0.1, 0.25, 0.5, 0.66, 0.8, 0.95} {
			s, err := SplitRecords(records, ratio)
			require.NoError(t, err)

			assert.Len(t, s.Train, int(math.Round(ratio*float64(n))))
			assert.Equal(t, n, len(s.Train)+len(s.Test))

			joined := append(append([]Record{}, s.Train...), s.Test...)
			if diff := cmp.Diff(records, joined); diff != "" {
				t.Fatalf("n=%d ratio=%v: train+test differs from the input (-want +got):\n%s", n, ratio, diff)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	records := makeRecords(17, 4)

	a, err := SplitRecords(records, 0.7)
	require.NoError(t, err)
	b, err := SplitRecords(records, 0.7)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("repeated split differs (-first +second):\n%s", diff)
	}
}

func TestSplit_TenImagesEightLandmarks(t *testing.T) {
	records := makeRecords(10, 8)

	s, err := SplitRecords(records, 0.8)
	require.NoError(t, err)

	assert.Len(t, s.Train, 8)
	assert.Len(t, s.Test, 2)
	assert.Equal(t, records[:8], s.Train)
	assert.Equal(t, records[8:], s.Test)
	for _, r := range append(s.Train, s.Test...) {
		assert.Len(t, r.Points, 8)
	}
}

func TestSplit_InvalidRatio(t *testing.T) {
	records := makeRecords(5, 2)
	for _, ratio := range []float64{0, 1, -0.2, 1.5, math.NaN(), math.Inf(1)} {
		_, err := SplitRecords(records, ratio)
		assert.Truef(t, errors.Is(err, ErrInvalidConfiguration), "ratio %v: got %v", ratio, err)
	}
}

func TestSplit_EmptySideIsReported(t *testing.T) {
	records := makeRecords(3, 2)

	s, err := SplitRecords(records, 0.1)
	require.NoError(t, err)
	assert.True(t, s.TrainEmpty())
	assert.False(t, s.TestEmpty())

	s, err = SplitRecords(records, 0.9)
	require.NoError(t, err)
	assert.False(t, s.TrainEmpty())
	assert.True(t, s.TestEmpty())
}

func TestSplit_TrainAppendDoesNotClobberTest(t *testing.T) {
	records := makeRecords(4, 2)
	s, err := SplitRecords(records, 0.5)
	require.NoError(t, err)

	want := append([]Record{}, s.Test...)
	_ = append(s.Train, Record{Image: "extra.png"})
	assert.Equal(t, want, s.Test)
}

func TestSplit_SeededShuffle(t *testing.T) {
	records := makeRecords(20, 2)
	orig := append([]Record{}, records...)
	opts := SplitOptions{Shuffle: true, Seed: 42}

	a, err := SplitRecords(records, 0.75, opts)
	require.NoError(t, err)
	b, err := SplitRecords(records, 0.75, opts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, orig, records, "the input must not be reordered")

	seen := make(map[string]int)
	for _, r := range append(a.Train, a.Test...) {
		seen[r.Image]++
	}
	assert.Len(t, seen, len(records))
	for name, count := range seen {
		assert.Equalf(t, 1, count, "%s assigned %d times", name, count)
	}
}
