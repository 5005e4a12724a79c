package phenomorph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/esimov/phenomorph/utils"
	"github.com/sirupsen/logrus"
)

// Status tells whether an operation produced its output or found it already in place.
type Status int

const (
	StatusCreated Status = iota
	StatusExists
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusExists:
		return "exists"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Model manages the lifecycle of the shape predictors living under a project root:
//
//	<root>/landmarks_ml-morph_<tag>.csv
//	<root>/xml/train_<tag>.xml
//	<root>/xml/test_<tag>.xml
//	<root>/models/predictor_<tag>.dat
//	<root>/models/predictor_<tag>.json
//
// The presence of these files is the only state a Model relies on.
// Concurrent operations on the same tag are not coordinated.
type Model struct {
	RootDir  string
	ImageDir string
	ModelDir string
	XMLDir   string

	Backend  Backend
	Sizer    ImageSizer
	Detector RegionDetector
	Logger   logrus.FieldLogger
}

// Option customizes a Model.
type Option func(*Model)

// WithLogger sets the logger used by the model.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Model) { m.Logger = l }
}

// WithSizer replaces the image header reader used while building the training documents.
func WithSizer(s ImageSizer) Option {
	return func(m *Model) { m.Sizer = s }
}

// WithDetector sets the detector used to locate the region of interest of
// images predicted without a bounding box.
func WithDetector(d RegionDetector) Option {
	return func(m *Model) { m.Detector = d }
}

// NewModel initializes a model rooted at root, driven by the given backend.
func NewModel(root string, backend Backend, opts ...Option) (*Model, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: no backend provided", ErrInvalidConfiguration)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	m := &Model{
		RootDir:  abs,
		ImageDir: filepath.Join(abs, "images"),
		ModelDir: filepath.Join(abs, "models"),
		XMLDir:   filepath.Join(abs, "xml"),
		Backend:  backend,
		Sizer:    FileSizer{},
		Logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Logger.WithField("root", m.RootDir).Debug("model initialized")

	return m, nil
}

// AnnotationPath is the landmark table of the tag.
func (m *Model) AnnotationPath(tag string) string {
	return filepath.Join(m.RootDir, fmt.Sprintf("landmarks_ml-morph_%s.csv", tag))
}

// TrainPath is the training split of the tag.
func (m *Model) TrainPath(tag string) string {
	return filepath.Join(m.XMLDir, fmt.Sprintf("train_%s.xml", tag))
}

// TestPath is the test split of the tag.
func (m *Model) TestPath(tag string) string {
	return filepath.Join(m.XMLDir, fmt.Sprintf("test_%s.xml", tag))
}

// ArtifactPath is the trained predictor of the tag.
func (m *Model) ArtifactPath(tag string) string {
	return filepath.Join(m.ModelDir, fmt.Sprintf("predictor_%s.dat", tag))
}

// ManifestPath is the training manifest stored next to the predictor.
func (m *Model) ManifestPath(tag string) string {
	return filepath.Join(m.ModelDir, fmt.Sprintf("predictor_%s.json", tag))
}

// PreprocessResult reports the outcome of Preprocess.
type PreprocessResult struct {
	Status    Status
	TrainPath string
	TestPath  string
	// Train and Test hold the number of images of each split. They are only
	// known when the split has been generated.
	Train int
	Test  int
}

// Preprocess splits the annotation table of the tag and converts both halves into
// dlib training documents. An existing split is kept unless overwrite is set.
func (m *Model) Preprocess(tag string, ratio float64, overwrite bool, opts ...SplitOptions) (*PreprocessResult, error) {
	if err := validateRatio(ratio); err != nil {
		return nil, err
	}
	log := m.Logger.WithField("tag", tag)

	records, err := ReadAnnotationFile(m.AnnotationPath(tag))
	if err != nil {
		return nil, err
	}

	res := &PreprocessResult{
		Status:    StatusExists,
		TrainPath: m.TrainPath(tag),
		TestPath:  m.TestPath(tag),
	}
	if fileExists(res.TrainPath) && !overwrite {
		log.Info("train/test split already exists, set overwrite to replace it")
		return res, nil
	}

	split, err := SplitRecords(m.resolveImages(records), ratio, opts...)
	if err != nil {
		return nil, err
	}
	if split.TrainEmpty() || split.TestEmpty() {
		log.WithFields(logrus.Fields{
			"ratio":  ratio,
			"images": len(records),
		}).Warn("one side of the split is empty")
	}

	train, err := m.encode(split.Train)
	if err != nil {
		return nil, err
	}
	test, err := m.encode(split.Test)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.XMLDir, 0755); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(res.TrainPath, train); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(res.TestPath, test); err != nil {
		return nil, err
	}

	res.Status = StatusCreated
	res.Train = len(split.Train)
	res.Test = len(split.Test)
	log.WithFields(logrus.Fields{
		"train": res.Train,
		"test":  res.Test,
	}).Info("train/test split generated")

	return res, nil
}

// resolveImages makes the image paths of the annotation table absolute. Names are
// looked up under the project root first, then under the image directory.
func (m *Model) resolveImages(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r = r.Clone()
		if !filepath.IsAbs(r.Image) {
			path := filepath.Join(m.RootDir, filepath.FromSlash(r.Image))
			if !fileExists(path) {
				if alt := filepath.Join(m.ImageDir, filepath.FromSlash(r.Image)); fileExists(alt) {
					path = alt
				}
			}
			r.Image = path
		}
		out[i] = r
	}
	return out
}

// encode builds a training document whose image paths are relative to the xml directory,
// the location dlib resolves them against.
func (m *Model) encode(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeDataset(&buf, records, m.XMLDir, m.Sizer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TrainResult reports the outcome of Train.
type TrainResult struct {
	Status        Status
	Artifact      string
	TrainingError float64
	Manifest      *Manifest
}

// Train fits the predictor of the tag on its training split, then evaluates it on the
// same split. An existing predictor is kept unless overwrite is set.
func (m *Model) Train(ctx context.Context, tag string, cfg *TrainingConfig, overwrite bool) (*TrainResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: load a training configuration first", ErrMissingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := m.Logger.WithField("tag", tag)

	dataset := m.TrainPath(tag)
	records, err := ReadDatasetFile(dataset)
	if err != nil {
		if errors.Is(err, ErrMissingDataset) {
			return nil, fmt.Errorf("%w: no train xml found at %s, run preprocess first", ErrMissingDataset, dataset)
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s contains no images", ErrMissingDataset, dataset)
	}

	res := &TrainResult{
		Status:   StatusExists,
		Artifact: m.ArtifactPath(tag),
	}
	if fileExists(res.Artifact) && !overwrite {
		log.Info("model already exists, set overwrite to replace it")
		return res, nil
	}

	if err := os.MkdirAll(m.ModelDir, 0755); err != nil {
		return nil, err
	}
	// The backend writes into a scratch file, moved in place only once it has been
	// evaluated successfully.
	tmp := res.Artifact + ".partial"
	os.Remove(tmp)
	defer os.Remove(tmp)

	manifest := newManifest(tag, dataset, res.Artifact, *cfg)
	start := time.Now()

	log.WithFields(logrus.Fields{
		"images":    len(records),
		"landmarks": len(records[0].Points),
	}).Info("training shape predictor")

	if err := m.Backend.Train(ctx, dataset, tmp, *cfg); err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	if !fileExists(tmp) {
		return nil, fmt.Errorf("%w: the backend did not produce a predictor", ErrMissingArtifact)
	}
	trainErr, err := m.Backend.Evaluate(ctx, dataset, tmp)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	if err := os.Rename(tmp, res.Artifact); err != nil {
		return nil, err
	}

	manifest.Duration = time.Since(start).String()
	manifest.TrainingError = trainErr
	if err := writeManifest(m.ManifestPath(tag), manifest); err != nil {
		log.WithError(err).Warn("could not write the training manifest")
	}

	res.Status = StatusCreated
	res.TrainingError = trainErr
	res.Manifest = manifest
	log.WithField("error", trainErr).Info("training error (average pixel deviation)")

	return res, nil
}

// Test evaluates the predictor of the tag on the test split of testTag,
// which defaults to the tag itself.
func (m *Model) Test(ctx context.Context, tag, testTag string) (float64, error) {
	artifact, dataset, err := m.testInputs(tag, testTag)
	if err != nil {
		return 0, err
	}
	v, err := m.Backend.Evaluate(ctx, dataset, artifact)
	if err != nil {
		return 0, fmt.Errorf("evaluation failed: %w", err)
	}
	m.Logger.WithFields(logrus.Fields{
		"tag":   tag,
		"error": v,
	}).Info("testing error (average pixel deviation)")

	return v, nil
}

func (m *Model) testInputs(tag, testTag string) (artifact, dataset string, err error) {
	if testTag == "" {
		testTag = tag
	}
	artifact = m.ArtifactPath(tag)
	if !fileExists(artifact) {
		return "", "", fmt.Errorf("%w: cannot find shape prediction model at %s", ErrMissingArtifact, artifact)
	}
	dataset = m.TestPath(testTag)
	if !fileExists(dataset) {
		return "", "", fmt.Errorf("%w: cannot find test xml file at %s", ErrMissingDataset, dataset)
	}
	return artifact, dataset, nil
}

// PredictDirOptions alters PredictDir.
type PredictDirOptions struct {
	// WriteCSV stores the predictions as <dir>/predicted_<tag>.csv.
	WriteCSV bool
}

// PredictDir predicts the landmarks of every image of dir, in file name order.
// The image paths of the returned records are relative to dir.
func (m *Model) PredictDir(ctx context.Context, tag, dir string, opts PredictDirOptions) ([]Record, error) {
	artifact := m.ArtifactPath(tag)
	if !fileExists(artifact) {
		return nil, fmt.Errorf("%w: cannot find shape prediction model at %s", ErrMissingArtifact, artifact)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: no image directory found at %s", ErrMissingImage, dir)
	}

	paths, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	log := m.Logger.WithFields(logrus.Fields{"tag": tag, "dir": dir})
	log.WithField("images", len(paths)).Info("predicting landmarks")

	engine := m.engine()
	predictions := make([]Record, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodeImg(path)
		if err != nil {
			return nil, err
		}
		points, err := engine.Predict(ctx, img, artifact, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		predictions = append(predictions, Record{Image: path, Points: points})
	}

	out := filepath.Join(dir, fmt.Sprintf("predicted_%s.xml", tag))
	defer os.Remove(out)

	if err := WriteDatasetFile(out, predictions, dir, m.Sizer); err != nil {
		return nil, err
	}
	records, err := ReadDatasetFile(out)
	if err != nil {
		return nil, err
	}

	if opts.WriteCSV {
		csv := filepath.Join(dir, fmt.Sprintf("predicted_%s.csv", tag))
		if err := WriteAnnotationFile(csv, records); err != nil {
			return nil, err
		}
		log.WithField("csv", csv).Info("predictions saved")
	}
	return records, nil
}

// PredictOptions alters PredictImage.
type PredictOptions struct {
	// BBox restricts the prediction to the given region.
	BBox *BBox
	// Plot, when set, is the path the annotated image is saved to.
	Plot  string
	Color color.Color
}

// PredictImage predicts the landmarks of a single image, given either as a local
// path or as an http(s) URL.
func (m *Model) PredictImage(ctx context.Context, tag, src string, opts PredictOptions) ([]Point, error) {
	artifact := m.ArtifactPath(tag)
	if !fileExists(artifact) {
		return nil, fmt.Errorf("%w: cannot find shape prediction model at %s", ErrMissingArtifact, artifact)
	}

	if utils.IsValidUrl(src) {
		name, err := utils.DownloadImage(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingImage, err)
		}
		defer os.Remove(name)
		src = name
	}
	img, err := decodeImg(src)
	if err != nil {
		return nil, err
	}
	return m.PredictImageData(ctx, tag, img, opts)
}

// PredictImageData predicts the landmarks of an in-memory image.
func (m *Model) PredictImageData(ctx context.Context, tag string, img image.Image, opts PredictOptions) ([]Point, error) {
	artifact := m.ArtifactPath(tag)
	m.Logger.WithField("model", artifact).Debug("using model")

	points, err := m.engine().Predict(ctx, img, artifact, opts.BBox)
	if err != nil {
		return nil, err
	}
	if opts.Plot != "" {
		if err := SaveImage(opts.Plot, Visualize(img, points, opts.Color)); err != nil {
			return nil, fmt.Errorf("could not save the visualisation: %w", err)
		}
	}
	return points, nil
}

// ProjectStatus lists which files of a tag are present.
type ProjectStatus struct {
	Tag         string
	Annotations bool
	TrainSplit  bool
	TestSplit   bool
	Artifact    bool
	// Manifest is nil when the predictor was not trained by this package
	// or its manifest is unreadable.
	Manifest *Manifest
}

// Status inspects the files of the tag without modifying anything.
func (m *Model) Status(tag string) *ProjectStatus {
	st := &ProjectStatus{
		Tag:         tag,
		Annotations: fileExists(m.AnnotationPath(tag)),
		TrainSplit:  fileExists(m.TrainPath(tag)),
		TestSplit:   fileExists(m.TestPath(tag)),
		Artifact:    fileExists(m.ArtifactPath(tag)),
	}
	if mf, err := ReadManifest(m.ManifestPath(tag)); err == nil {
		st.Manifest = mf
	}
	return st
}

// Report predicts every image of the test split of testTag and measures the
// per-landmark deviation from the annotated positions.
func (m *Model) Report(ctx context.Context, tag, testTag string) (*ErrorReport, error) {
	artifact, dataset, err := m.testInputs(tag, testTag)
	if err != nil {
		return nil, err
	}
	truth, err := ReadDatasetFile(dataset)
	if err != nil {
		return nil, err
	}

	engine := m.engine()
	predicted := make([]Record, 0, len(truth))
	for _, r := range truth {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.FromSlash(r.Image)
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(dataset), path)
		}
		img, err := decodeImg(path)
		if err != nil {
			return nil, err
		}
		points, err := engine.Predict(ctx, img, artifact, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Image, err)
		}
		predicted = append(predicted, Record{Image: r.Image, Points: points})
	}
	return LandmarkErrors(truth, predicted)
}

func (m *Model) engine() *Engine {
	return &Engine{
		Predictor: m.Backend,
		Detector:  m.Detector,
		Logger:    m.Logger,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
