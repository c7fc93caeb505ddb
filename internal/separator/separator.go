// Package separator isolates the vocal stem of a track by running an
// external source-separation model.
package separator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

// ErrVocalsMissing is returned when the model exits cleanly but the vocal stem is not on disk.
var ErrVocalsMissing = errors.New("vocal stem not found")

// Error is a separation failure: the model invocation failed or its
// on-disk output did not appear.
type Error struct {
	Input string
	Path  string
	Log   command.Log
	Err   error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrVocalsMissing):
		return fmt.Sprintf("separate %s: vocal file not found at %s", e.Input, e.Path)
	case e.Log.Stderr != "":
		return fmt.Sprintf("separate %s: %s exited %d: %s", e.Input, e.Log.Command, e.Log.ExitCode, e.Log.Stderr)
	default:
		return fmt.Sprintf("separate %s: %v", e.Input, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Separator runs a two-stem (vocals + accompaniment) separation.
type Separator struct {
	cmd     []string
	stem    string
	timeout time.Duration
	runner  command.Runner
	logger  *slog.Logger
}

func New(cfg config.SeparatorConfig, runner command.Runner, logger *slog.Logger) (*Separator, error) {
	args, err := command.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("separator command: %w", err)
	}
	if !strings.Contains(cfg.Command, "{input}") {
		args = append(args, "{input}")
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	stem := cfg.Stem
	if stem == "" {
		stem = "vocals.wav"
	}
	return &Separator{
		cmd:     args,
		stem:    stem,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		runner:  runner,
		logger:  logger.With(slog.String("component", "separator")),
	}, nil
}

// VocalPath is where the model writes the vocal stem for inputPath.
func (s *Separator) VocalPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base)), s.stem)
}

// Separate writes stems under outputDir/<input stem>/ and returns the vocal
// artifact. The accompaniment stem is left in place.
func (s *Separator) Separate(ctx context.Context, inputPath, outputDir string) (audio.Artifact, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	argv := command.Expand(s.cmd, map[string]string{"input": inputPath, "output": outputDir})
	name, args := argv[0], argv[1:]
	vocalPath := s.VocalPath(inputPath, outputDir)

	s.logger.Info("isolating vocals", slog.String("input", inputPath))
	res, err := s.runner.Run(ctx, name, args...)
	log := command.NewLog(name, args, res)
	if err != nil {
		return audio.Artifact{}, &Error{Input: inputPath, Path: vocalPath, Log: log, Err: err}
	}

	// the model's exit status is not trusted; the stem must exist
	info, err := os.Stat(vocalPath)
	if err != nil || info.IsDir() {
		return audio.Artifact{}, &Error{Input: inputPath, Path: vocalPath, Log: log, Err: ErrVocalsMissing}
	}

	s.logger.Info("vocals isolated", slog.String("path", vocalPath), slog.Duration("took", res.Duration))
	return audio.Artifact{Path: vocalPath, Format: audio.FormatWAV}, nil
}
