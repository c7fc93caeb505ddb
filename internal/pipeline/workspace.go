package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Workspace is the per-run scratch directory. Every artifact a run
// produces lives under Dir, so removing Dir cleans up the run.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a unique directory under root.
func NewWorkspace(root, runID string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	dir, err := os.MkdirTemp(root, "run-"+runID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create run workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// StageInput copies src into the workspace, keeping its base name so
// stem-derived output paths stay readable.
func (w *Workspace) StageInput(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("input %s is a directory", src)
	}

	dst := filepath.Join(w.Dir, "input", filepath.Base(src))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("stage input: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("stage input: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("stage input: %w", err)
	}
	return dst, nil
}

// SeparatedDir is where the separator writes stems.
func (w *Workspace) SeparatedDir() string {
	return filepath.Join(w.Dir, "separated")
}

func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Dir)
}
