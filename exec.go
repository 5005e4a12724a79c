package phenomorph

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// stderrTail bounds how much of the backend's stderr is quoted in error messages.
const stderrTail = 2048

// ExecBackend drives an external shape predictor program, typically a thin wrapper
// around dlib, through three sub-commands:
//
//	train   --dataset D --output A --num-trees N --nu F --threads N --tree-depth N
//	        --cascade-depth N --feature-pool-size N --test-splits N --oversampling N [--verbose]
//	test    --dataset D --model A
//	predict --model A --image I --left L --top T --right R --bottom B
//
// test prints the average pixel deviation on its last output line; predict prints one
// "name x y" line per landmark part, in any order.
type ExecBackend struct {
	// Command is the executable; Args are prepended to every sub-command.
	Command string
	Args    []string
	// Env is appended to the environment of the current process.
	Env []string
	// Stderr additionally receives the diagnostic output of the program, when set.
	Stderr io.Writer
	Logger logrus.FieldLogger
}

var _ Backend = (*ExecBackend)(nil)

// NewExecBackend creates a backend which runs the given command line.
func NewExecBackend(command string, args ...string) *ExecBackend {
	return &ExecBackend{
		Command: command,
		Args:    args,
		Logger:  logrus.StandardLogger(),
	}
}

// Train implements Trainer.
func (b *ExecBackend) Train(ctx context.Context, dataset, artifact string, cfg TrainingConfig) error {
	args := []string{
		"train",
		"--dataset", dataset,
		"--output", artifact,
		"--num-trees", strconv.Itoa(cfg.NumTrees),
		"--nu", strconv.FormatFloat(cfg.Regularization, 'g', -1, 64),
		"--threads", strconv.Itoa(cfg.Threads),
		"--tree-depth", strconv.Itoa(cfg.TreeDepth),
		"--cascade-depth", strconv.Itoa(cfg.CascadeDepth),
		"--feature-pool-size", strconv.Itoa(cfg.FeaturePoolSize),
		"--test-splits", strconv.Itoa(cfg.TestSplits),
		"--oversampling", strconv.Itoa(cfg.Oversampling),
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	_, err := b.run(ctx, args...)
	return err
}

// Evaluate implements Evaluator.
func (b *ExecBackend) Evaluate(ctx context.Context, dataset, artifact string) (float64, error) {
	out, err := b.run(ctx, "test", "--dataset", dataset, "--model", artifact)
	if err != nil {
		return 0, err
	}
	return parseEvaluation(out)
}

// Predict implements Predictor. The image is handed over to the program as a
// temporary png file, removed once the program exits.
func (b *ExecBackend) Predict(ctx context.Context, img image.Image, region Region, artifact string) ([]Part, error) {
	tmp, err := os.CreateTemp("", "phenomorph-predict-*.png")
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("unable to encode the image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	out, err := b.run(ctx, "predict",
		"--model", artifact,
		"--image", tmp.Name(),
		"--left", strconv.Itoa(region.Left),
		"--top", strconv.Itoa(region.Top),
		"--right", strconv.Itoa(region.Right),
		"--bottom", strconv.Itoa(region.Bottom),
	)
	if err != nil {
		return nil, err
	}
	return parseParts(out)
}

// run executes a sub-command and returns its standard output.
func (b *ExecBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	if b.Command == "" {
		return nil, fmt.Errorf("%w: no backend command configured", ErrInvalidConfiguration)
	}
	argv := append(append([]string{}, b.Args...), args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Command, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if b.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, b.Stderr)
	}
	if len(b.Env) > 0 {
		cmd.Env = append(os.Environ(), b.Env...)
	}

	b.logger().WithFields(logrus.Fields{
		"command": b.Command,
		"action":  args[0],
	}).Debug("running backend")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backend %s %s: %w", b.Command, args[0], ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		return nil, fmt.Errorf("backend %s %s failed: %w: %s", b.Command, args[0], err, msg)
	}
	return stdout.Bytes(), nil
}

func (b *ExecBackend) logger() logrus.FieldLogger {
	if b.Logger == nil {
		return logrus.StandardLogger()
	}
	return b.Logger
}

// parseEvaluation reads the error metric from the last non-empty output line.
func parseEvaluation(out []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return 0, fmt.Errorf("%w: backend returned no evaluation result", ErrFormat)
	}
	// Accept both a bare number and a "label: number" line.
	if i := strings.LastIndexAny(last, ": \t"); i >= 0 {
		last = last[i+1:]
	}
	v, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid evaluation result %q", ErrFormat, last)
	}
	return v, nil
}

// parseParts reads the "name x y" lines printed by the predict sub-command.
func parseParts(out []byte) ([]Part, error) {
	var parts []Part
	sc := bufio.NewScanner(bytes.NewReader(out))
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: prediction line %d: expected \"name x y\", got %q", ErrFormat, line, sc.Text())
		}
		x, errX := strconv.Atoi(fields[1])
		y, errY := strconv.Atoi(fields[2])
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("%w: prediction line %d: non-integer coordinates", ErrFormat, line)
		}
		parts = append(parts, Part{Name: fields[0], X: x, Y: y})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: backend returned no landmarks", ErrFormat)
	}
	return parts, nil
}
