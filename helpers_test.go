package phenomorph

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
)

// fakeBackend records its calls and predicts landmark i at (left+i, top+i) of the region.
// The parts are reported in the string order of their names, the way dlib does.
type fakeBackend struct {
	landmarks int

	trainErr   error
	evalErr    error
	predictErr error
	evalResult float64
	// noArtifact makes Train succeed without producing a file.
	noArtifact bool

	trainCalls   int
	evalCalls    int
	predictCalls int
	regions      []Region
	configs      []TrainingConfig
}

func (f *fakeBackend) Train(_ context.Context, _, artifact string, cfg TrainingConfig) error {
	f.trainCalls++
	f.configs = append(f.configs, cfg)
	if f.trainErr != nil {
		return f.trainErr
	}
	if f.noArtifact {
		return nil
	}
	return os.WriteFile(artifact, []byte("predictor"), 0644)
}

func (f *fakeBackend) Evaluate(_ context.Context, _, _ string) (float64, error) {
	f.evalCalls++
	return f.evalResult, f.evalErr
}

func (f *fakeBackend) Predict(_ context.Context, _ image.Image, region Region, _ string) ([]Part, error) {
	f.predictCalls++
	f.regions = append(f.regions, region)
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	parts := make([]Part, 0, f.landmarks)
	for _, name := range dlibOrder(f.landmarks) {
		i, _ := strconv.Atoi(name)
		parts = append(parts, Part{Name: name, X: region.Left + i, Y: region.Top + i})
	}
	return parts, nil
}

// dlibOrder returns the part names 0..n-1 sorted as strings.
func dlibOrder(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	sort.Strings(names)
	return names
}

type fixedSizer struct {
	width, height int
	err           error
}

func (s fixedSizer) Size(string) (int, int, error) {
	return s.width, s.height, s.err
}

// makeRecords generates n records with the given number of landmarks each.
func makeRecords(n, landmarks int) []Record {
	records := make([]Record, n)
	for i := range records {
		pts := make([]Point, landmarks)
		for j := range pts {
			pts[j] = Point{X: i*10 + j, Y: i*10 + 2*j}
		}
		records[i] = Record{Image: fmt.Sprintf("img_%02d.png", i), Points: pts}
	}
	return records
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
