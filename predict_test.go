package phenomorph

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	region Region
	found  bool
	calls  int
}

func (d *stubDetector) Detect(image.Image) (Region, bool) {
	d.calls++
	return d.region, d.found
}

func TestRegion_Resolve(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	assert.Equal(t, Region{Left: 1, Top: 1, Right: 639, Bottom: 479}, ResolveRegion(bounds, nil))
	assert.Equal(t, Region{Left: 10, Top: 20, Right: 40, Bottom: 60}, ResolveRegion(bounds, &BBox{X: 10, Y: 20, W: 30, H: 40}))

	r := ResolveRegion(bounds, &BBox{X: 10, Y: 20, W: 30, H: 40})
	assert.Equal(t, 30, r.Width())
	assert.Equal(t, 40, r.Height())
	assert.Equal(t, image.Rect(10, 20, 40, 60), r.Rect())
}

func TestRegion_ParseBBox(t *testing.T) {
	b, err := ParseBBox("10, 20,30,40")
	require.NoError(t, err)
	assert.Equal(t, &BBox{X: 10, Y: 20, W: 30, H: 40}, b)

	for _, s := range []string{"", "1,2,3", "1,2,3,x", "1,2,0,4", "1,2,3,-4"} {
		_, err := ParseBBox(s)
		assert.Truef(t, errors.Is(err, ErrInvalidConfiguration), "%q: got %v", s, err)
	}
}

func TestOrderParts_Permutations(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 2, 9, 10, 11, 25, 68} {
		for trial := 0; trial < 20; trial++ {
			parts := make([]Part, n)
			for i := range parts {
				parts[i] = Part{Name: strconv.Itoa(i), X: i * 3, Y: i * 5}
			}
			rnd.Shuffle(n, func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })

			points, err := OrderParts(parts)
			require.NoError(t, err)
			require.Len(t, points, n)
			for i, pt := range points {
				assert.Equal(t, Point{X: i * 3, Y: i * 5}, pt)
			}
		}
	}
}

func TestOrderParts_StringSortedNames(t *testing.T) {
	// dlib reports 0, 1, 10, 11, 2, ... for twelve parts.
	var parts []Part
	for _, name := range dlibOrder(12) {
		i, _ := strconv.Atoi(name)
		parts = append(parts, Part{Name: name, X: i, Y: -i})
	}
	points, err := OrderParts(parts)
	require.NoError(t, err)
	for i, pt := range points {
		assert.Equal(t, Point{X: i, Y: -i}, pt)
	}
}

func TestOrderParts_Invalid(t *testing.T) {
	tests := map[string][]Part{
		"duplicate":   {{Name: "0"}, {Name: "1"}, {Name: "1"}},
		"missing":     {{Name: "0"}, {Name: "2"}},
		"not zero":    {{Name: "1"}, {Name: "2"}},
		"non numeric": {{Name: "0"}, {Name: "tip"}},
		"negative":    {{Name: "-1"}, {Name: "0"}},
	}
	for name, parts := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := OrderParts(parts)
			assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
		})
	}
}

func newArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "predictor.dat")
	require.NoError(t, os.WriteFile(path, []byte("predictor"), 0644))
	return path
}

func TestEngine_Predict(t *testing.T) {
	backend := &fakeBackend{landmarks: 12}
	engine := NewEngine(backend)
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))

	points, err := engine.Predict(context.Background(), img, newArtifact(t), nil)
	require.NoError(t, err)
	require.Len(t, points, 12)
	for i, pt := range points {
		assert.Equal(t, Point{X: 1 + i, Y: 1 + i}, pt)
	}
	assert.Equal(t, []Region{{Left: 1, Top: 1, Right: 199, Bottom: 99}}, backend.regions)
}

func TestEngine_BoundingBox(t *testing.T) {
	backend := &fakeBackend{landmarks: 3}
	det := &stubDetector{region: Region{Left: 50, Top: 50, Right: 60, Bottom: 60}, found: true}
	engine := &Engine{Predictor: backend, Detector: det}
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))

	points, err := engine.Predict(context.Background(), img, newArtifact(t), &BBox{X: 10, Y: 20, W: 30, H: 40})
	require.NoError(t, err)
	assert.Equal(t, Point{X: 12, Y: 22}, points[2])
	assert.Zero(t, det.calls, "an explicit bounding box takes precedence over the detector")
}

func TestEngine_Detector(t *testing.T) {
	backend := &fakeBackend{landmarks: 2}
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	artifact := newArtifact(t)

	det := &stubDetector{region: Region{Left: 50, Top: 40, Right: 90, Bottom: 80}, found: true}
	engine := &Engine{Predictor: backend, Detector: det}
	_, err := engine.Predict(context.Background(), img, artifact, nil)
	require.NoError(t, err)
	assert.Equal(t, det.region, backend.regions[0])

	det.found = false
	_, err = engine.Predict(context.Background(), img, artifact, nil)
	require.NoError(t, err)
	assert.Equal(t, Region{Left: 1, Top: 1, Right: 199, Bottom: 99}, backend.regions[1])
}

func TestEngine_FailsBeforePredicting(t *testing.T) {
	backend := &fakeBackend{landmarks: 2}
	engine := NewEngine(backend)
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	_, err := engine.Predict(context.Background(), img, filepath.Join(t.TempDir(), "missing.dat"), nil)
	assert.True(t, errors.Is(err, ErrMissingArtifact))

	_, err = engine.Predict(context.Background(), nil, newArtifact(t), nil)
	assert.True(t, errors.Is(err, ErrMissingImage))

	_, err = engine.Predict(context.Background(), img, newArtifact(t), &BBox{X: 5, Y: 5, W: 0, H: 3})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	assert.Zero(t, backend.predictCalls)
}

func TestEngine_MalformedOutput(t *testing.T) {
	engine := NewEngine(predictorFunc(func() ([]Part, error) {
		return []Part{{Name: "0"}, {Name: "0"}}, nil
	}))
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	_, err := engine.Predict(context.Background(), img, newArtifact(t), nil)
	assert.True(t, errors.Is(err, ErrFormat))
}

type predictorFunc func() ([]Part, error)

func (f predictorFunc) Predict(context.Context, image.Image, Region, string) ([]Part, error) {
	return f()
}
