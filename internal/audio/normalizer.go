package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

// Normalizer converts arbitrary audio into mono 16-bit PCM WAV via ffmpeg.
type Normalizer struct {
	cmd        []string
	sampleRate int
	channels   int
	timeout    time.Duration
	runner     command.Runner
	logger     *slog.Logger
}

func NewNormalizer(cfg config.AudioConfig, runner command.Runner, logger *slog.Logger) (*Normalizer, error) {
	args, err := command.Parse(cfg.FFmpegCommand)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg command: %w", err)
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &Normalizer{
		cmd:        args,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		runner:     runner,
		logger:     logger.With(slog.String("component", "normalizer")),
	}, nil
}

// Normalize re-encodes input into output, overwriting it. A positive
// maxDuration keeps only the leading window.
func (n *Normalizer) Normalize(ctx context.Context, input, output string, maxDuration time.Duration) (Artifact, error) {
	if input == "" || output == "" {
		return Artifact{}, &EncodingError{Input: input, Output: output, Err: errors.New("input and output paths are required")}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Artifact{}, &EncodingError{Input: input, Output: output, Err: err}
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	name := n.cmd[0]
	args := append(append([]string{}, n.cmd[1:]...), BuildArgs(input, output, n.sampleRate, n.channels, maxDuration)...)
	res, err := n.runner.Run(ctx, name, args...)
	log := command.NewLog(name, args, res)
	if err != nil {
		return Artifact{}, &EncodingError{Input: input, Output: output, Log: log, Err: err}
	}

	info, err := Inspect(output)
	if err != nil {
		return Artifact{}, &EncodingError{Input: input, Output: output, Log: log, Err: fmt.Errorf("ffmpeg completed but output is unusable: %w", err)}
	}
	n.logger.Debug("audio normalized",
		slog.String("output", output),
		slog.Int("sample_rate", info.SampleRate),
		slog.Int("channels", info.Channels),
		slog.Duration("duration", info.Duration),
		slog.Int64("bytes", info.Size))

	return Artifact{Path: output, Format: FormatPCM16, MaxDuration: maxDuration}, nil
}

// BuildArgs builds ffmpeg args for PCM 16-bit WAV output.
func BuildArgs(input, output string, sampleRate, channels int, maxDuration time.Duration) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
	}
	if maxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', -1, 64))
	}
	return append(args, output)
}
