package phenomorph

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// xmlDataset mirrors the dataset document consumed by dlib's shape predictor trainer.
type xmlDataset struct {
	XMLName xml.Name   `xml:"dataset"`
	Name    string     `xml:"name,omitempty"`
	Comment string     `xml:"comment,omitempty"`
	Images  []xmlImage `xml:"images>image"`
}

type xmlImage struct {
	File  string   `xml:"file,attr"`
	Boxes []xmlBox `xml:"box"`
}

type xmlBox struct {
	Top    string    `xml:"top,attr"`
	Left   string    `xml:"left,attr"`
	Width  string    `xml:"width,attr"`
	Height string    `xml:"height,attr"`
	Parts  []xmlPart `xml:"part"`
}

type xmlPart struct {
	Name string `xml:"name,attr"`
	X    string `xml:"x,attr"`
	Y    string `xml:"y,attr"`
}

// ImageSizer returns the pixel dimensions of an image file.
type ImageSizer interface {
	Size(path string) (width, height int, err error)
}

// EncodeDataset writes the records as a dlib training document. Image paths are stored
// relative to baseDir and every image gets a box covering the image inset by one pixel.
// An empty record set produces a valid document without images.
func EncodeDataset(w io.Writer, records []Record, baseDir string, sizer ImageSizer) error {
	if err := validateSchema(records); err != nil {
		return err
	}
	if sizer == nil {
		sizer = FileSizer{}
	}

	ds := xmlDataset{
		Name:   "phenomorph landmarks",
		Images: make([]xmlImage, 0, len(records)),
	}
	if len(records) > 0 {
		ds.Comment = fmt.Sprintf("%d images, %d landmarks", len(records), len(records[0].Points))
	}
	for _, r := range records {
		rel := relativeTo(baseDir, r.Image)
		path := filepath.FromSlash(rel)
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		width, height, err := sizer.Size(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMissingImage, r.Image, err)
		}

		box := xmlBox{
			Top:    "1",
			Left:   "1",
			Width:  strconv.Itoa(width - 2),
			Height: strconv.Itoa(height - 2),
			Parts:  make([]xmlPart, 0, len(r.Points)),
		}
		for i, pt := range r.Points {
			box.Parts = append(box.Parts, xmlPart{
				Name: strconv.Itoa(i),
				X:    strconv.Itoa(pt.X),
				Y:    strconv.Itoa(pt.Y),
			})
		}
		ds.Images = append(ds.Images, xmlImage{File: rel, Boxes: []xmlBox{box}})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// DecodeDataset parses a dlib dataset document. The parts of every image are re-keyed by
// their numeric name, so the returned points follow the landmark index order whatever
// order the document lists them in.
func DecodeDataset(r io.Reader) ([]Record, error) {
	var ds xmlDataset
	if err := xml.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	records := make([]Record, 0, len(ds.Images))
	for i, img := range ds.Images {
		if img.File == "" {
			return nil, fmt.Errorf("%w: image #%d has no file attribute", ErrFormat, i)
		}
		switch len(img.Boxes) {
		case 0:
			return nil, fmt.Errorf("%w: %s has no box", ErrFormat, img.File)
		case 1:
		default:
			return nil, fmt.Errorf("%w: %s has %d boxes, expected one", ErrFormat, img.File, len(img.Boxes))
		}

		parts := make([]Part, 0, len(img.Boxes[0].Parts))
		for _, p := range img.Boxes[0].Parts {
			if p.Name == "" || p.X == "" || p.Y == "" {
				return nil, fmt.Errorf("%w: %s: part with missing name or coordinates", ErrFormat, img.File)
			}
			x, errX := strconv.Atoi(p.X)
			y, errY := strconv.Atoi(p.Y)
			if errX != nil || errY != nil {
				return nil, fmt.Errorf("%w: %s: part %s has non-integer coordinates", ErrFormat, img.File, p.Name)
			}
			parts = append(parts, Part{Name: p.Name, X: x, Y: y})
		}
		pts, err := OrderParts(parts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", img.File, err)
		}
		records = append(records, Record{Image: img.File, Points: pts})
	}

	if err := validateSchema(records); err != nil {
		return nil, err
	}
	return records, nil
}

// WriteDatasetFile encodes the records and stores them at path. The document is fully
// encoded in memory before anything touches the filesystem.
func WriteDatasetFile(path string, records []Record, baseDir string, sizer ImageSizer) error {
	var buf bytes.Buffer
	if err := EncodeDataset(&buf, records, baseDir, sizer); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// ReadDatasetFile decodes the dataset document stored at path.
func ReadDatasetFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no dataset found at %s", ErrMissingDataset, path)
		}
		return nil, err
	}
	defer f.Close()

	return DecodeDataset(f)
}

// relativeTo expresses an image path relative to baseDir, using forward slashes.
func relativeTo(baseDir, path string) string {
	if filepath.IsAbs(path) && baseDir != "" {
		if base, err := filepath.Abs(baseDir); err == nil {
			if rel, err := filepath.Rel(base, path); err == nil {
				path = rel
			}
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}
