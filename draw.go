package phenomorph

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/esimov/phenomorph/utils"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultMarkerColor is used when no marker color is provided.
var DefaultMarkerColor = color.NRGBA{R: 0xff, A: 0xff}

// Visualize draws every landmark as a filled circle labelled with its 1-based index.
// The drawing happens on a copy: neither the source image nor the points are altered.
func Visualize(img image.Image, points []Point, col color.Color) *image.NRGBA {
	if col == nil {
		col = DefaultMarkerColor
	}
	dst := imaging.Clone(img)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()

	radius := autoPointSize(w, h)
	scale := autoTextScale(w, h)

	for i, pt := range points {
		drawCircle(dst, pt.X, pt.Y, radius, col)
		drawLabel(dst, strconv.Itoa(i+1), pt.X+radius, pt.Y-radius, scale, col)
	}
	return dst
}

// autoPointSize returns a marker radius proportional to the image size.
func autoPointSize(w, h int) int {
	return utils.Max(2, int(float64(w+h)/2*0.004))
}

// autoTextScale returns the magnification applied to the 7x13 label font.
func autoTextScale(w, h int) int {
	return utils.Max(1, int(float64(w+h)/2*0.0015))
}

// drawCircle draws a filled circle centered at (x, y) with the provided radius.
func drawCircle(dst *image.NRGBA, x, y, radius int, col color.Color) {
	bounds := dst.Bounds()
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			p := image.Pt(x+dx, y+dy)
			if p.In(bounds) {
				dst.Set(p.X, p.Y, col)
			}
		}
	}
}

// drawLabel renders the text with its baseline starting at (x, y).
// The bitmap font is rendered at its native size and scaled up by the given factor.
func drawLabel(dst *image.NRGBA, text string, x, y, scale int, col color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()
	ascent := face.Metrics().Ascent.Ceil()

	label := image.NewNRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)

	if scale > 1 {
		label = imaging.Resize(label, width*scale, height*scale, imaging.NearestNeighbor)
	}
	origin := image.Pt(x, y-ascent*scale)
	draw.Draw(dst, label.Bounds().Add(origin), label, image.Point{}, draw.Over)
}
