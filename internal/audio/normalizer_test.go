package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/audio/audiotest"
	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRunner simulates ffmpeg by writing a WAV to the last argument.
type fakeRunner struct {
	t     *testing.T
	calls [][]string
	fail  bool
	skip  bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail {
		return command.Result{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
	}
	if !f.skip {
		audiotest.WriteTone(f.t, args[len(args)-1], 0.25)
	}
	return command.Result{}, nil
}

func newTestNormalizer(t *testing.T, runner command.Runner) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(config.AudioConfig{
		FFmpegCommand: "ffmpeg -loglevel error",
		SampleRate:    44100,
		Channels:      1,
		TimeoutMS:     1000,
	}, runner, newLogger())
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func TestNormalizeCapped(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t}
	n := newTestNormalizer(t, runner)

	out := filepath.Join(dir, "vocals_detection.wav")
	art, err := n.Normalize(context.Background(), filepath.Join(dir, "vocals.wav"), out, 30*time.Second)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if art.Path != out || art.Format != FormatPCM16 || !art.Truncated() {
		t.Fatalf("unexpected artifact: %+v", art)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(runner.calls))
	}
	argv := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"ffmpeg -loglevel error", "-acodec pcm_s16le", "-ar 44100", "-ac 1", "-t 30", "-y"} {
		if !strings.Contains(argv, want) {
			t.Fatalf("argv %q missing %q", argv, want)
		}
	}
}

func TestNormalizeFullLengthHasNoTruncation(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t}
	n := newTestNormalizer(t, runner)

	art, err := n.Normalize(context.Background(), filepath.Join(dir, "in.mp3"), filepath.Join(dir, "out.wav"), 0)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if art.Truncated() {
		t.Fatal("full-length artifact reported as truncated")
	}
	for _, arg := range runner.calls[0] {
		if arg == "-t" {
			t.Fatalf("unexpected -t in %v", runner.calls[0])
		}
	}
}

func TestNormalizeFailureIsEncodingError(t *testing.T) {
	dir := t.TempDir()
	n := newTestNormalizer(t, &fakeRunner{t: t, fail: true})

	_, err := n.Normalize(context.Background(), filepath.Join(dir, "broken.mp3"), filepath.Join(dir, "out.wav"), 0)
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if encErr.Log.ExitCode != 1 || !strings.Contains(encErr.Error(), "Invalid data") {
		t.Fatalf("unexpected error detail: %v", encErr)
	}
}

func TestNormalizeMissingOutputIsEncodingError(t *testing.T) {
	dir := t.TempDir()
	n := newTestNormalizer(t, &fakeRunner{t: t, skip: true})

	_, err := n.Normalize(context.Background(), filepath.Join(dir, "in.mp3"), filepath.Join(dir, "out.wav"), 0)
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "out.wav")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no output, stat err = %v", statErr)
	}
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("in.mp3", "out.wav", 44100, 1, 1500*time.Millisecond)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-t 1.5") {
		t.Fatalf("expected fractional window, got %q", joined)
	}
	if args[len(args)-1] != "out.wav" {
		t.Fatalf("output must be last, got %v", args)
	}
}

func TestArtifactSibling(t *testing.T) {
	art := Artifact{Path: filepath.Join("run", "separated", "song", "vocals.wav")}
	if got := art.Sibling("_detection"); got != filepath.Join("run", "separated", "song", "vocals_detection.wav") {
		t.Fatalf("sibling = %s", got)
	}
	if art.Stem() != "vocals" {
		t.Fatalf("stem = %s", art.Stem())
	}
}
