package phenomorph

import (
	"context"
	"image"
)

// Part is a raw landmark as reported by a predictor. Name carries the landmark index;
// predictors are free to report parts in any order.
type Part struct {
	Name string
	X    int
	Y    int
}

// Trainer fits a shape predictor on a training dataset and stores it as artifact.
type Trainer interface {
	Train(ctx context.Context, dataset, artifact string, cfg TrainingConfig) error
}

// Evaluator returns the average pixel deviation of the artifact over a dataset.
type Evaluator interface {
	Evaluate(ctx context.Context, dataset, artifact string) (float64, error)
}

// Predictor locates the landmarks of an image inside the given region.
type Predictor interface {
	Predict(ctx context.Context, img image.Image, region Region, artifact string) ([]Part, error)
}

// Backend is the numerical engine driven by the model lifecycle.
// Any implementation can be plugged in without touching the pipeline.
type Backend interface {
	Trainer
	Evaluator
	Predictor
}
