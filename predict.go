package phenomorph

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Region is the pixel-space rectangle the predictor looks for landmarks in.
type Region struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Width returns the horizontal extent of the region.
func (r Region) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of the region.
func (r Region) Height() int { return r.Bottom - r.Top }

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// BBox is a caller supplied bounding box given by its top-left corner and its size.
type BBox struct {
	X, Y, W, H int
}

// ParseBBox parses a bounding box written as "x,y,width,height".
func ParseBBox(s string) (*BBox, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: bounding box must be x,y,width,height, got %q", ErrInvalidConfiguration, s)
	}
	var v [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid bounding box value %q", ErrInvalidConfiguration, f)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return nil, fmt.Errorf("%w: bounding box must have a positive size, got %q", ErrInvalidConfiguration, s)
	}
	return &BBox{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// ResolveRegion returns the prediction region of an image with the given bounds.
// Without a bounding box the whole image is used, inset by one pixel on every side.
func ResolveRegion(bounds image.Rectangle, bbox *BBox) Region {
	if bbox != nil {
		return Region{
			Left:   bbox.X,
			Top:    bbox.Y,
			Right:  bbox.X + bbox.W,
			Bottom: bbox.Y + bbox.H,
		}
	}
	return Region{
		Left:   1,
		Top:    1,
		Right:  bounds.Dx() - 1,
		Bottom: bounds.Dy() - 1,
	}
}

// OrderParts arranges the raw predictor output into landmark index order.
// Predictors may enumerate their parts in any order (dlib, for one, sorts the part
// names as strings, so "10" comes before "2"), hence the parts are keyed by the index
// carried in their name and never by their position in the input.
// The names must form the exact sequence 0..N-1.
func OrderParts(parts []Part) ([]Point, error) {
	type indexed struct {
		idx int
		pt  Point
	}
	keyed := make([]indexed, 0, len(parts))
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p.Name))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: part name %q is not a landmark index", ErrFormat, p.Name)
		}
		keyed = append(keyed, indexed{idx: idx, pt: Point{X: p.X, Y: p.Y}})
	}
	slices.SortStableFunc(keyed, func(a, b indexed) int {
		return a.idx - b.idx
	})

	points := make([]Point, len(keyed))
	for i, k := range keyed {
		if k.idx != i {
			if i > 0 && keyed[i-1].idx == k.idx {
				return nil, fmt.Errorf("%w: duplicate landmark index %d", ErrFormat, k.idx)
			}
			return nil, fmt.Errorf("%w: missing landmark index %d", ErrFormat, i)
		}
		points[i] = k.pt
	}
	return points, nil
}

// Engine runs a predictor over single images and hands back canonically ordered landmarks.
type Engine struct {
	Predictor Predictor
	// Detector, when set, locates the region of interest of images predicted
	// without an explicit bounding box.
	Detector RegionDetector
	Logger   logrus.FieldLogger
}

// NewEngine creates an inference engine backed by the given predictor.
func NewEngine(p Predictor) *Engine {
	return &Engine{
		Predictor: p,
		Logger:    logrus.StandardLogger(),
	}
}

// Region returns the region the engine will predict in for the given image.
func (e *Engine) Region(img image.Image, bbox *BBox) Region {
	if bbox == nil && e.Detector != nil {
		if r, ok := e.Detector.Detect(img); ok {
			return r
		}
		e.logger().Debug("no object detected, falling back to the whole image")
	}
	return ResolveRegion(img.Bounds(), bbox)
}

// Predict locates the landmarks of img with the predictor stored at artifact.
// Position i of the result always denotes landmark i of the dataset schema.
func (e *Engine) Predict(ctx context.Context, img image.Image, artifact string, bbox *BBox) ([]Point, error) {
	if _, err := os.Stat(artifact); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: cannot find shape prediction model at %s", ErrMissingArtifact, artifact)
		}
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no image provided", ErrMissingImage)
	}

	region := e.Region(img, bbox)
	if region.Width() <= 0 || region.Height() <= 0 {
		return nil, fmt.Errorf("%w: empty prediction region %+v", ErrInvalidConfiguration, region)
	}

	parts, err := e.Predictor.Predict(ctx, img, region, artifact)
	if err != nil {
		return nil, err
	}
	points, err := OrderParts(parts)
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"artifact":  artifact,
		"region":    region.Rect().String(),
		"landmarks": len(points),
	}).Debug("landmarks predicted")

	return points, nil
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}
