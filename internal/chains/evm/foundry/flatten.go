package foundry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/contraverify/internal/command"
)

// ErrFlatten is returned when forge flatten fails. It is never retried.
var ErrFlatten = errors.New("flattening source failed")

// flatFile is where flattened output is written, relative to OutDir.
const flatFile = "flat.sol"

// Flattener produces single-file sources with forge flatten.
type Flattener struct {
	project *Project
	runner  command.Runner
}

// NewFlattener creates a Flattener for project using runner.
func NewFlattener(project *Project, runner command.Runner) *Flattener {
	return &Flattener{project: project, runner: runner}
}

// Flatten runs forge flatten on sourcePath and returns the flattened text.
func (f *Flattener) Flatten(ctx context.Context, sourcePath string) (string, error) {
	outPath := filepath.Join(f.project.OutDir, flatFile)
	if err := os.MkdirAll(filepath.Join(f.project.Dir, f.project.OutDir), 0o755); err != nil {
		return "", fmt.Errorf("%w: creating output dir: %v", ErrFlatten, err)
	}

	if _, err := f.runner.Run(ctx, "forge", "flatten", sourcePath, "--output", outPath); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrFlatten, err)
	}

	data, err := os.ReadFile(filepath.Join(f.project.Dir, outPath))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrFlatten, outPath, err)
	}
	code := string(data)
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrFlatten, outPath)
	}
	return code, nil
}
