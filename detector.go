package phenomorph

import (
	"fmt"
	"image"
	"os"

	"github.com/esimov/phenomorph/utils"
	pigo "github.com/esimov/pigo/core"
)

// RegionDetector locates the object of interest inside an image.
type RegionDetector interface {
	Detect(img image.Image) (Region, bool)
}

// CascadeDetector finds the region of interest with a pigo binary cascade classifier,
// e.g. the facefinder cascade shipped with pigo or any cascade trained on the specimens.
type CascadeDetector struct {
	classifier *pigo.Pigo

	// MinSize and MaxSize bound the detection window, in pixels.
	// A zero MaxSize means the larger image dimension.
	MinSize int
	MaxSize int
	// Angle is the in-plane rotation of the objects, as a fraction of a full turn.
	Angle float64
	// IoUThreshold is the overlap above which detections are merged.
	IoUThreshold float64
	// MinScore discards detections with a lower quality score.
	MinScore float32
}

// NewCascadeDetector unpacks the cascade file located at path.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the cascade file: %w", err)
	}

	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}

	return &CascadeDetector{
		classifier:   classifier,
		MinSize:      20,
		IoUThreshold: 0.2,
		MinScore:     5.0,
	}, nil
}

// Detect runs the cascade over the image and returns the region of the detection
// with the highest score.
func (d *CascadeDetector) Detect(img image.Image) (Region, bool) {
	dx, dy := img.Bounds().Dx(), img.Bounds().Dy()

	maxSize := d.MaxSize
	if maxSize == 0 {
		maxSize = utils.Max(dx, dy)
	}

	cParams := pigo.CascadeParams{
		MinSize:     d.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,

		ImageParams: pigo.ImageParams{
			Pixels: grayPixels(img),
			Rows:   dy,
			Cols:   dx,
			Dim:    dx,
		},
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	dets := d.classifier.RunCascade(cParams, d.Angle)

	// Calculate the intersection over union (IoU) of two clusters.
	dets = d.classifier.ClusterDetections(dets, d.IoUThreshold)

	return bestDetection(dets, d.MinScore, image.Rect(0, 0, dx, dy))
}

// bestDetection converts the highest scoring detection into a region clipped to the image.
func bestDetection(dets []pigo.Detection, minScore float32, bounds image.Rectangle) (Region, bool) {
	best := -1
	for i, det := range dets {
		if det.Q < minScore {
			continue
		}
		if best < 0 || det.Q > dets[best].Q {
			best = i
		}
	}
	if best < 0 {
		return Region{}, false
	}

	det := dets[best]
	half := det.Scale / 2
	rect := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Intersect(bounds)
	if rect.Empty() {
		return Region{}, false
	}
	return Region{
		Left:   rect.Min.X,
		Top:    rect.Min.Y,
		Right:  rect.Max.X,
		Bottom: rect.Max.Y,
	}, true
}
