package phenomorph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Manifest describes a training run. It is stored next to the predictor artifact and
// is informational only: whether a model exists is decided by the artifact alone.
type Manifest struct {
	RunID         string         `json:"run_id"`
	Tag           string         `json:"tag"`
	Dataset       string         `json:"dataset"`
	Artifact      string         `json:"artifact"`
	CreatedAt     time.Time      `json:"created_at"`
	Duration      string         `json:"duration"`
	Config        TrainingConfig `json:"config"`
	TrainingError float64        `json:"training_error"`
}

func newManifest(tag, dataset, artifact string, cfg TrainingConfig) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		Tag:       tag,
		Dataset:   dataset,
		Artifact:  artifact,
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
	}
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// ReadManifest loads the manifest stored at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no manifest found at %s", ErrMissingArtifact, path)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	return &m, nil
}
