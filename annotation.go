package phenomorph

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Point is a landmark position in pixel space, with the origin at the top-left corner.
type Point struct {
	X int
	Y int
}

// Record holds the landmarks of one annotated image. The position of a point inside
// Points is its landmark index in the dataset schema.
type Record struct {
	Image  string
	Points []Point
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	pts := make([]Point, len(r.Points))
	copy(pts, r.Points)
	return Record{Image: r.Image, Points: pts}
}

// longHeader is the header of the one-row-per-landmark table layout.
var longHeader = []string{"image", "landmark", "x", "y"}

// ReadAnnotationFile reads the annotation table stored at path.
func ReadAnnotationFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no annotation table found at %s", ErrMissingDataset, path)
		}
		return nil, err
	}
	defer f.Close()

	return ReadAnnotations(f)
}

// ReadAnnotations parses an annotation table. Two layouts are recognised by their header:
//
//	image,landmark,x,y         one row per (image, landmark) pair
//	id,X0,Y0,X1,Y1,...,Xn,Yn   one row per image (ml-morph / tpsDig export)
//
// Decimal coordinates are rounded to the nearest pixel.
func ReadAnnotations(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: annotation table has no data rows", ErrFormat)
	}

	var records []Record
	if isLongHeader(rows[0]) {
		records, err = readLong(rows[1:])
	} else {
		records, err = readWide(rows[0], rows[1:])
	}
	if err != nil {
		return nil, err
	}
	if err := validateSchema(records); err != nil {
		return nil, err
	}
	return records, nil
}

func isLongHeader(header []string) bool {
	if len(header) != len(longHeader) {
		return false
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) != longHeader[i] {
			return false
		}
	}
	return true
}

// readLong groups the landmark rows by image, keeping the order in which images first appear.
func readLong(rows [][]string) ([]Record, error) {
	var (
		order  []string
		byName = make(map[string]map[int]Point)
	)
	for i, row := range rows {
		line := i + 2
		if len(row) != len(longHeader) {
			return nil, fmt.Errorf("%w: line %d: expected %d fields, got %d", ErrFormat, line, len(longHeader), len(row))
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, fmt.Errorf("%w: line %d: empty image name", ErrFormat, line)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: line %d: invalid landmark index %q", ErrFormat, line, row[1])
		}
		pt, err := parsePoint(row[2], row[3])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}

		parts, ok := byName[name]
		if !ok {
			parts = make(map[int]Point)
			byName[name] = parts
			order = append(order, name)
		}
		if _, dup := parts[idx]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate landmark %d for %s", ErrFormat, line, idx, name)
		}
		parts[idx] = pt
	}

	records := make([]Record, 0, len(order))
	for _, name := range order {
		parts := byName[name]
		pts := make([]Point, len(parts))
		for idx, pt := range parts {
			if idx >= len(parts) {
				return nil, fmt.Errorf("%w: %s: landmark indices are not contiguous from 0", ErrFormat, name)
			}
			pts[idx] = pt
		}
		records = append(records, Record{Image: name, Points: pts})
	}
	return records, nil
}

func readWide(header []string, rows [][]string) ([]Record, error) {
	if len(header) < 3 || (len(header)-1)%2 != 0 {
		return nil, fmt.Errorf("%w: expected an id column followed by X/Y coordinate pairs", ErrFormat)
	}
	for c := 1; c < len(header); c += 2 {
		xi, okx := coordIndex(header[c], "x")
		yi, oky := coordIndex(header[c+1], "y")
		if !okx || !oky || xi != yi {
			return nil, fmt.Errorf("%w: unexpected coordinate columns %q,%q", ErrFormat, header[c], header[c+1])
		}
	}
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: line %d: expected %d fields, got %d", ErrFormat, line, len(header), len(row))
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, fmt.Errorf("%w: line %d: empty image name", ErrFormat, line)
		}
		pts := make([]Point, 0, (len(row)-1)/2)
		for c := 1; c < len(row); c += 2 {
			pt, err := parsePoint(row[c], row[c+1])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
			}
			pts = append(pts, pt)
		}
		records = append(records, Record{Image: name, Points: pts})
	}
	return records, nil
}

// coordIndex parses a wide layout column name such as X3 or y3.
func coordIndex(col, axis string) (int, bool) {
	col = strings.ToLower(strings.TrimSpace(col))
	if !strings.HasPrefix(col, axis) {
		return 0, false
	}
	idx, err := strconv.Atoi(col[len(axis):])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func parsePoint(xs, ys string) (Point, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid x coordinate %q", xs)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid y coordinate %q", ys)
	}
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}, nil
}

// validateSchema checks that every record carries the same, non-zero number of landmarks.
func validateSchema(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	n := len(records[0].Points)
	if n == 0 {
		return fmt.Errorf("%w: %s has no landmarks", ErrFormat, records[0].Image)
	}
	for _, r := range records[1:] {
		if len(r.Points) != n {
			return fmt.Errorf("%w: %s has %d landmarks, expected %d", ErrFormat, r.Image, len(r.Points), n)
		}
	}
	return nil
}

// WriteAnnotations writes the records in the one-row-per-landmark layout.
func WriteAnnotations(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(longHeader); err != nil {
		return err
	}
	for _, r := range records {
		for i, pt := range r.Points {
			row := []string{
				filepath.ToSlash(r.Image),
				strconv.Itoa(i),
				strconv.Itoa(pt.X),
				strconv.Itoa(pt.Y),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAnnotationFile writes the records into the file at path, replacing it atomically.
func WriteAnnotationFile(path string, records []Record) error {
	var sb strings.Builder
	if err := WriteAnnotations(&sb, records); err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(sb.String()))
}

// writeFileAtomic writes data into a temporary sibling of path and renames it into place,
// so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write %s: %w", path, err)
	}
	// CreateTemp opens with 0600.
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
