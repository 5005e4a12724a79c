package phenomorph

import (
	"fmt"
	"math"
	"strconv"

	"github.com/esimov/phenomorph/utils"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LandmarkError holds the deviation statistics of a single landmark, in pixels.
type LandmarkError struct {
	Index  int
	Mean   float64
	StdDev float64
	Max    float64
}

// ErrorReport summarizes how far the predicted landmarks lie from the annotated ones.
type ErrorReport struct {
	Images    int
	Landmarks []LandmarkError
	// Mean is the average deviation over every landmark of every image,
	// the figure dlib reports as the average pixel deviation.
	Mean float64
}

// LandmarkErrors compares the predictions against the ground truth. Records are
// paired by image path; every annotated image must have a prediction.
func LandmarkErrors(truth, predicted []Record) (*ErrorReport, error) {
	if len(truth) == 0 {
		return nil, fmt.Errorf("%w: no annotated images to compare", ErrMissingDataset)
	}
	if err := validateSchema(truth); err != nil {
		return nil, err
	}
	byImage := make(map[string]Record, len(predicted))
	for _, r := range predicted {
		byImage[r.Image] = r
	}

	n := len(truth[0].Points)
	dists := make([][]float64, n)
	all := make([]float64, 0, n*len(truth))
	for _, t := range truth {
		p, ok := byImage[t.Image]
		if !ok {
			return nil, fmt.Errorf("%w: no prediction for %s", ErrMissingImage, t.Image)
		}
		if len(p.Points) != n {
			return nil, fmt.Errorf("%w: %s: predicted %d landmarks, expected %d", ErrFormat, t.Image, len(p.Points), n)
		}
		for i := range n {
			dx := float64(t.Points[i].X - p.Points[i].X)
			dy := float64(t.Points[i].Y - p.Points[i].Y)
			d := math.Hypot(dx, dy)
			dists[i] = append(dists[i], d)
			all = append(all, d)
		}
	}

	rep := &ErrorReport{
		Images:    len(truth),
		Landmarks: make([]LandmarkError, n),
		Mean:      stat.Mean(all, nil),
	}
	for i, d := range dists {
		mean, std := stat.MeanStdDev(d, nil)
		if len(d) < 2 {
			std = 0
		}
		le := LandmarkError{Index: i, Mean: mean, StdDev: std}
		for _, v := range d {
			le.Max = math.Max(le.Max, v)
		}
		rep.Landmarks[i] = le
	}
	return rep, nil
}

// Worst returns the landmark with the highest mean deviation.
func (r *ErrorReport) Worst() LandmarkError {
	var worst LandmarkError
	for i, le := range r.Landmarks {
		if i == 0 || le.Mean > worst.Mean {
			worst = le
		}
	}
	return worst
}

// Plot saves a bar chart of the mean deviation per landmark. The image format
// follows the extension of path.
func (r *ErrorReport) Plot(path string) error {
	if len(r.Landmarks) == 0 {
		return fmt.Errorf("%w: empty report", ErrFormat)
	}

	values := make(plotter.Values, len(r.Landmarks))
	names := make([]string, len(r.Landmarks))
	for i, le := range r.Landmarks {
		values[i] = le.Mean
		// Landmarks are labelled 1-based, like on the visualisations.
		names[i] = strconv.Itoa(le.Index + 1)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Average pixel deviation per landmark (%d images)", r.Images)
	p.X.Label.Text = "Landmark"
	p.Y.Label.Text = "Deviation (px)"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("could not build the chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = DefaultMarkerColor
	p.Add(bars)
	p.NominalX(names...)

	line := plotter.NewFunction(func(float64) float64 { return r.Mean })
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)
	p.Legend.Add("mean", line)

	width := vg.Length(utils.Max(6, float64(len(r.Landmarks))*0.35)) * vg.Inch
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("could not save the chart: %w", err)
	}
	return nil
}
