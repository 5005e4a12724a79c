package phenomorph

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TrainingConfig holds the hyperparameters handed over to the shape predictor trainer.
type TrainingConfig struct {
	NumTrees        int     `json:"num_trees"`
	Regularization  float64 `json:"regularization"`
	Threads         int     `json:"threads"`
	TreeDepth       int     `json:"tree_depth"`
	CascadeDepth    int     `json:"cascade_depth"`
	FeaturePoolSize int     `json:"feature_pool"`
	TestSplits      int     `json:"test_splits"`
	Oversampling    int     `json:"oversampling"`
	Verbose         bool    `json:"verbose"`
}

// trainSection is the optional section the keys may be nested under.
const trainSection = "train"

// LoadConfig reads a YAML training configuration. The keys may live either at the top
// level of the document or under a "train" section. Every key is required: a missing key
// or a value of the wrong type is reported as ErrInvalidConfiguration.
func LoadConfig(path string) (*TrainingConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file %s does not exist", ErrInvalidConfiguration, path)
		}
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: error reading config file %s: %v", ErrInvalidConfiguration, path, err)
	}
	if k.Exists(trainSection) {
		k = k.Cut(trainSection)
	}

	cfg, err := configFromKoanf(k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// configFromKoanf extracts and type checks every training key.
func configFromKoanf(k *koanf.Koanf) (*TrainingConfig, error) {
	var (
		cfg  TrainingConfig
		errs []error
	)
	intKey := func(key string, dst *int) {
		v, err := intValue(k, key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}

	intKey("num_trees", &cfg.NumTrees)
	intKey("threads", &cfg.Threads)
	intKey("tree_depth", &cfg.TreeDepth)
	intKey("cascade_depth", &cfg.CascadeDepth)
	intKey("feature_pool", &cfg.FeaturePoolSize)
	intKey("test_splits", &cfg.TestSplits)
	intKey("oversampling", &cfg.Oversampling)

	if nu, err := floatValue(k, "regularization"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Regularization = nu
	}

	if !k.Exists("verbose") {
		errs = append(errs, fmt.Errorf("missing key %q", "verbose"))
	} else if b, ok := k.Get("verbose").(bool); !ok {
		errs = append(errs, fmt.Errorf("key %q must be a boolean, got %T", "verbose", k.Get("verbose")))
	} else {
		cfg.Verbose = b
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func intValue(k *koanf.Koanf, key string) (int, error) {
	if !k.Exists(key) {
		return 0, fmt.Errorf("missing key %q", key)
	}
	switch v := k.Get(key).(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("key %q must be an integer, got %v", key, k.Get(key))
}

func floatValue(k *koanf.Koanf, key string) (float64, error) {
	if !k.Exists(key) {
		return 0, fmt.Errorf("missing key %q", key)
	}
	switch v := k.Get(key).(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("key %q must be a number, got %v", key, k.Get(key))
}

// Validate checks the hyperparameter ranges accepted by the trainer.
func (c *TrainingConfig) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("num_trees", c.NumTrees)
	positive("threads", c.Threads)
	positive("tree_depth", c.TreeDepth)
	positive("cascade_depth", c.CascadeDepth)
	positive("feature_pool", c.FeaturePoolSize)
	positive("test_splits", c.TestSplits)

	if c.Oversampling < 0 {
		errs = append(errs, fmt.Errorf("oversampling cannot be negative, got %d", c.Oversampling))
	}
	if c.Regularization <= 0 || c.Regularization > 1 {
		errs = append(errs, fmt.Errorf("regularization must be in the (0, 1] range, got %v", c.Regularization))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}
