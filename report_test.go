package phenomorph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_LandmarkErrors(t *testing.T) {
	truth := []Record{
		{Image: "a.png", Points: []Point{{0, 0}, {10, 10}}},
		{Image: "b.png", Points: []Point{{0, 0}, {10, 10}}},
	}
	predicted := []Record{
		// listed in a different order than the ground truth
		{Image: "b.png", Points: []Point{{0, 0}, {10, 10}}},
		{Image: "a.png", Points: []Point{{3, 4}, {10, 10}}},
	}

	rep, err := LandmarkErrors(truth, predicted)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Images)
	require.Len(t, rep.Landmarks, 2)
	assert.InDelta(t, 2.5, rep.Landmarks[0].Mean, 1e-9)
	assert.InDelta(t, 3.5355, rep.Landmarks[0].StdDev, 1e-4)
	assert.InDelta(t, 5.0, rep.Landmarks[0].Max, 1e-9)
	assert.Zero(t, rep.Landmarks[1].Mean)
	assert.InDelta(t, 1.25, rep.Mean, 1e-9)
	assert.Equal(t, 0, rep.Worst().Index)
}

func TestReport_SingleImage(t *testing.T) {
	truth := []Record{{Image: "a.png", Points: []Point{{0, 0}}}}
	rep, err := LandmarkErrors(truth, []Record{{Image: "a.png", Points: []Point{{6, 8}}}})
	require.NoError(t, err)

	assert.Equal(t, 10.0, rep.Mean)
	assert.Zero(t, rep.Landmarks[0].StdDev)
}

func TestReport_Mismatch(t *testing.T) {
	truth := []Record{{Image: "a.png", Points: []Point{{0, 0}, {1, 1}}}}

	_, err := LandmarkErrors(truth, nil)
	assert.True(t, errors.Is(err, ErrMissingImage))

	_, err = LandmarkErrors(truth, []Record{{Image: "a.png", Points: []Point{{0, 0}}}})
	assert.True(t, errors.Is(err, ErrFormat))

	_, err = LandmarkErrors(nil, nil)
	assert.True(t, errors.Is(err, ErrMissingDataset))
}

func TestReport_Plot(t *testing.T) {
	rep := &ErrorReport{
		Images: 4,
		Landmarks: []LandmarkError{
			{Index: 0, Mean: 1.5},
			{Index: 1, Mean: 3},
			{Index: 2, Mean: 0.5},
		},
		Mean: 1.66,
	}
	path := filepath.Join(t.TempDir(), "errors.png")
	require.NoError(t, rep.Plot(path))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())

	assert.Error(t, (&ErrorReport{}).Plot(path))
}
