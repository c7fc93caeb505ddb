package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

// execRecognizer runs a local recognizer binary that prints a listen-shaped
// JSON document on stdout.
type execRecognizer struct {
	cmd     []string
	timeout time.Duration
	runner  command.Runner
	mu      sync.Mutex
}

func NewExecRecognizer(cfg config.STTConfig, runner command.Runner) (Recognizer, error) {
	args, err := command.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &execRecognizer{
		cmd:     args,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		runner:  runner,
	}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	// local models are memory hungry; one at a time
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", audioPath)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.DetectLanguage {
		args = append(args, "--detect-language")
	}

	res, err := r.runner.Run(ctx, base, args...)
	if err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(res.Stderr))
	}

	var resp Response
	if err := json.Unmarshal([]byte(res.Stdout), &resp); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &resp, nil
}
