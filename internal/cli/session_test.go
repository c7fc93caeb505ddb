package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/pipeline"
)

type fakeRunner struct {
	result pipeline.Result
	inputs []string
}

func (f *fakeRunner) RunObserved(_ context.Context, input string, hook pipeline.Hook) pipeline.Result {
	f.inputs = append(f.inputs, input)
	for _, st := range []pipeline.State{pipeline.StateStart, pipeline.StateSeparating, pipeline.StateDetecting, pipeline.StateTranscribing} {
		hook(pipeline.Event{State: st})
	}
	return f.result
}

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		`  "/music/song.mp3" `:                             "/music/song.mp3",
		`'/music/song.mp3'`:                                "/music/song.mp3",
		`\\wsl.localhost\Ubuntu-22.04\home\me\My Song.mp3`: "/home/me/My Song.mp3",
		`C:\Music\song.mp3`:                                `C:\Music\song.mp3`,
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStats(t *testing.T) {
	chars, words := Stats("naïve  café\nlyrics")
	if chars != 18 || words != 3 {
		t.Fatalf("stats = %d chars %d words", chars, words)
	}
}

func TestSessionPromptsAndSaves(t *testing.T) {
	audio := writeAudio(t, "My Song.mp3")
	outDir := t.TempDir()
	runner := &fakeRunner{result: pipeline.Result{
		Transcript: "hello world", Language: "en", LanguageName: "English",
		Outcome: pipeline.OutcomeSuccess, State: pipeline.StateDone,
	}}
	in := strings.NewReader(`"` + audio + "\"\ny\n")
	var out bytes.Buffer

	s := NewSession(runner, in, &out, WithOutputDir(outDir), WithClock(func() time.Time { return fixedNow }))
	if err := s.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.inputs) != 1 || runner.inputs[0] != audio {
		t.Fatalf("runner inputs = %v", runner.inputs)
	}

	printed := out.String()
	for _, want := range []string{"→ ", "Isolating vocals...", "Detecting language...", "hello world", "Length: 11 characters", "Word count: 2", "Transcription saved to:"} {
		if !strings.Contains(printed, want) {
			t.Fatalf("output missing %q:\n%s", want, printed)
		}
	}

	saved := filepath.Join(outDir, "My Song_transcription_en_20250314_092653.txt")
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	want := "Audio File: " + audio + "\n" +
		"Language: English (en)\n" +
		"Transcription Date: 2025-03-14 09:26:53\n" +
		strings.Repeat("=", 50) + "\n\n" +
		"hello world"
	if string(data) != want {
		t.Fatalf("saved file = %q, want %q", data, want)
	}
}

func TestSessionDeclineSave(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{result: pipeline.Result{Transcript: "x", Language: "es", LanguageName: "Spanish", Outcome: pipeline.OutcomeSuccess}}
	s := NewSession(runner, strings.NewReader("n\n"), &bytes.Buffer{}, WithOutputDir(outDir))
	if err := s.Run(context.Background(), writeAudio(t, "a.wav")); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Fatalf("unexpected saved files: %v", entries)
	}
}

func TestSessionEmptyPrintsTips(t *testing.T) {
	runner := &fakeRunner{result: pipeline.Result{Language: "en", LanguageName: "English", Outcome: pipeline.OutcomeEmpty, Error: pipeline.MsgNoLyrics}}
	var out bytes.Buffer
	s := NewSession(runner, strings.NewReader(""), &out)
	if err := s.Run(context.Background(), writeAudio(t, "instrumental.mp3")); err != nil {
		t.Fatalf("empty result should not be an error: %v", err)
	}
	if !strings.Contains(out.String(), "No lyrics were transcribed.") || !strings.Contains(out.String(), "Troubleshooting tips:") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSessionFailureReturnsError(t *testing.T) {
	stageErr := &pipeline.StageError{Stage: pipeline.StateSeparating, Reason: pipeline.ReasonSeparation, Err: errors.New("spleeter missing")}
	runner := &fakeRunner{result: pipeline.Result{Outcome: pipeline.OutcomeFailed, Stage: pipeline.StateSeparating, Error: pipeline.MsgSeparationFailed, Err: stageErr}}
	var out bytes.Buffer
	s := NewSession(runner, strings.NewReader(""), &out)

	err := s.Run(context.Background(), writeAudio(t, "song.mp3"))
	var got *pipeline.StageError
	if !errors.As(err, &got) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if !strings.Contains(out.String(), pipeline.MsgSeparationFailed) {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSessionMissingFile(t *testing.T) {
	runner := &fakeRunner{}
	err := NewSession(runner, strings.NewReader(""), &bytes.Buffer{}).Run(context.Background(), "/does/not/exist.mp3")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if len(runner.inputs) != 0 {
		t.Fatal("runner must not be called for a missing file")
	}
}
