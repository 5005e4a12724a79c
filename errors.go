package phenomorph

import "errors"

// The error taxonomy of the landmark pipeline. Call sites wrap these values with
// additional context, so callers should match them with errors.Is.
var (
	// ErrInvalidConfiguration reports a bad split ratio or an incomplete training config.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrMissingConfig reports a training attempt without a loaded config.
	ErrMissingConfig = errors.New("missing training config")
	// ErrMissingArtifact reports an operation on a predictor that was never trained.
	ErrMissingArtifact = errors.New("missing predictor artifact")
	// ErrMissingDataset reports an operation on nonexistent annotation or split files.
	ErrMissingDataset = errors.New("missing dataset")
	// ErrMissingImage reports an inference source which cannot be found.
	ErrMissingImage = errors.New("missing image")
	// ErrFormat reports a malformed annotation table or training document.
	ErrFormat = errors.New("format error")
)
