package utils

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUtils_ShouldBeValidUrl(t *testing.T) {
	if !IsValidUrl("https://github.com/esimov/phenomorph/") {
		t.Errorf("A valid URL should have been provided")
	}
	for _, uri := range []string{"images/sample.jpg", "/tmp/sample.jpg", "ftp://host/sample.jpg", "https://"} {
		if IsValidUrl(uri) {
			t.Errorf("%q should not be considered a downloadable URL", uri)
		}
	}
}

func TestUtils_ShouldDetectValidFileType(t *testing.T) {
	sampleImg := filepath.Join(t.TempDir(), "sample.png")
	f, err := os.Create(sampleImg)
	if err != nil {
		t.Fatalf("could not create sample image: %v", err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("could not encode sample image: %v", err)
	}
	f.Close()

	ftype, err := DetectContentType(sampleImg)
	if err != nil {
		t.Fatalf("could not detect content type: %v", err)
	}
	if !strings.Contains(ftype, "image") {
		t.Errorf("Content type expected to be of type image, got: %v", ftype)
	}
}

func TestUtils_DownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sample.png":
			png.Encode(w, image.NewGray(image.Rect(0, 0, 4, 4)))
		case "/notes.png":
			w.Write([]byte("definitely not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	name, err := DownloadImage(context.Background(), srv.URL+"/sample.png")
	if err != nil {
		t.Fatalf("could not download the image: %v", err)
	}
	defer os.Remove(name)

	if filepath.Ext(name) != ".png" {
		t.Errorf("the downloaded file should keep the source extension, got: %s", name)
	}
	// The returned file is closed, so it can be removed right away.
	if err := os.Remove(name); err != nil {
		t.Errorf("could not remove the downloaded file: %v", err)
	}

	for _, uri := range []string{srv.URL + "/notes.png", srv.URL + "/missing.png"} {
		if name, err := DownloadImage(context.Background(), uri); err == nil {
			os.Remove(name)
			t.Errorf("%s should not be downloaded as an image", uri)
		}
	}
}
