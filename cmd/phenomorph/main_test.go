package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/esimov/phenomorph"
	"github.com/esimov/phenomorph/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	utils.SetColor(false)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_Status(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "landmarks_ml-morph_wings.csv"), []byte("image,landmark,x,y\n"), 0644))

	out, err := execute(t, "status", "--root", root, "-t", "wings")
	require.NoError(t, err)
	assert.Regexp(t, `landmarks\s+ok`, out)
	assert.Regexp(t, `model\s+missing`, out)
}

func TestCLI_RequiresTag(t *testing.T) {
	_, err := execute(t, "status", "--root", t.TempDir())
	assert.ErrorContains(t, err, "tag")
}

func TestCLI_PreprocessErrors(t *testing.T) {
	_, err := execute(t, "preprocess", "--root", t.TempDir(), "-t", "wings", "--ratio", "1.5")
	assert.ErrorIs(t, err, phenomorph.ErrInvalidConfiguration)

	_, err = execute(t, "preprocess", "--root", t.TempDir(), "-t", "wings")
	assert.ErrorIs(t, err, phenomorph.ErrMissingDataset)
}

func TestCLI_TrainRequiresConfig(t *testing.T) {
	_, err := execute(t, "train", "--root", t.TempDir(), "-t", "wings", "-c", filepath.Join(t.TempDir(), "config.yaml"))
	assert.ErrorIs(t, err, phenomorph.ErrInvalidConfiguration)
}

func TestCLI_PredictInvalidBBox(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "models", "predictor_wings.dat"), nil, 0644))

	_, err := execute(t, "predict", "--root", root, "-t", "wings", "--bbox", "1,2,3", "wing.jpg")
	assert.ErrorIs(t, err, phenomorph.ErrInvalidConfiguration)
}
