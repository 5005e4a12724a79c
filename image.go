package phenomorph

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/esimov/phenomorph/utils"
	"golang.org/x/image/bmp"
)

// validExtensions lists the image types picked up when a directory is predicted.
var validExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}

// decodeImg opens and decodes an image file. The EXIF orientation is ignored: the
// pixels stay in the frame the training boxes and the backend read them in.
func decodeImg(src string) (image.Image, error) {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no image found at %s", ErrMissingImage, src)
		}
		return nil, err
	}

	ctype, err := utils.DetectContentType(src)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ctype, "image") {
		return nil, fmt.Errorf("%w: %s is not an image file (%s)", ErrFormat, src, ctype)
	}

	img, err := imaging.Open(src)
	if err != nil {
		return nil, fmt.Errorf("could not decode the image file %s: %w", src, err)
	}
	return img, nil
}

// encodeImg encodes an image into w, picking the codec from the file extension.
// Anything which is not a png or bmp is written as jpeg.
func encodeImg(w io.Writer, ext string, img image.Image) error {
	switch strings.ToLower(ext) {
	case "", ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	case ".png":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("unsupported image format %q", ext)
	}
}

// SaveImage stores the image at path; the encoder is chosen by the path extension.
func SaveImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create the destination file: %w", err)
	}
	if err := encodeImg(f, filepath.Ext(path), img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// FileSizer reads the image dimensions from the file header without decoding the pixels.
type FileSizer struct{}

// Size implements ImageSizer.
func (FileSizer) Size(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("could not read the image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// listImages returns the supported image files of dir, sorted by name.
// Sub-directories are not descended into.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if isValidExtension(strings.ToLower(filepath.Ext(e.Name())), validExtensions) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	return paths, nil
}

// isValidExtension checks for the supported extensions.
func isValidExtension(ext string, extensions []string) bool {
	for _, ex := range extensions {
		if ex == ext {
			return true
		}
	}
	return false
}

// grayPixels returns the luma plane of img with min-point at (0, 0),
// one byte per pixel in row-major order.
func grayPixels(img image.Image) []uint8 {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray.Pix
}
