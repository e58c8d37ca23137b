// Package workspace persists per-test inputs and outputs for later inspection.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	appErr "stressjudge/pkg/errors"
)

const (
	inputsDir  = "inputs"
	outputsDir = "outputs"
)

// Artifacts are the files kept for one test unit.
type Artifacts struct {
	Input  []byte
	Output []byte
	// Expected is only written when non-nil.
	Expected []byte
}

// Writer lays files out as <root>/<mode>/inputs/input_<n>.txt and
// <root>/<mode>/outputs/{output,correct_output}_<n>.txt.
type Writer struct {
	root string
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Root returns the base directory.
func (w *Writer) Root() string {
	return w.root
}

// Prepare creates the mode directories and removes files from a previous run.
func (w *Writer) Prepare(mode string) error {
	base := filepath.Join(w.root, mode)
	for _, dir := range []string{inputsDir, outputsDir} {
		path := filepath.Join(base, dir)
		if err := os.RemoveAll(path); err != nil {
			return appErr.Wrapf(err, appErr.StageIOFailed, "clear %s", path)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return appErr.Wrapf(err, appErr.StageIOFailed, "create %s", path)
		}
	}
	return nil
}

// Save writes the artifacts of test index.
func (w *Writer) Save(ctx context.Context, mode string, index int, a Artifacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	files := []struct {
		path string
		data []byte
	}{
		{InputPath(w.root, mode, index), a.Input},
		{OutputPath(w.root, mode, index), a.Output},
	}
	if a.Expected != nil {
		files = append(files, struct {
			path string
			data []byte
		}{ExpectedPath(w.root, mode, index), a.Expected})
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return appErr.Wrapf(err, appErr.StageIOFailed, "create %s", filepath.Dir(f.path))
		}
		if err := os.WriteFile(f.path, f.data, 0644); err != nil {
			return appErr.Wrapf(err, appErr.StageIOFailed, "write %s", f.path)
		}
	}
	return nil
}

func InputPath(root, mode string, index int) string {
	return filepath.Join(root, mode, inputsDir, fmt.Sprintf("input_%d.txt", index))
}

func OutputPath(root, mode string, index int) string {
	return filepath.Join(root, mode, outputsDir, fmt.Sprintf("output_%d.txt", index))
}

func ExpectedPath(root, mode string, index int) string {
	return filepath.Join(root, mode, outputsDir, fmt.Sprintf("correct_output_%d.txt", index))
}
