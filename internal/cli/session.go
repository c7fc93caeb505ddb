// Package cli implements the interactive transcription session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-lyrics/internal/pipeline"
)

const rule = "=================================================="

const wslPrefix = `\\wsl.localhost\Ubuntu-22.04\`

// ErrFileNotFound is returned when the requested audio file does not exist.
var ErrFileNotFound = errors.New("file not found")

var troubleshootingTips = []string{
	"Try a song with clearer vocals",
	"Ensure the audio has actual singing/lyrics (not instrumental)",
	"Check if the song has very quiet or heavily processed vocals",
	"Some songs may have vocals that are too mixed with instruments",
	"Try adjusting the audio volume or quality",
}

type runner interface {
	RunObserved(ctx context.Context, input string, hook pipeline.Hook) pipeline.Result
}

// Session drives one prompt → run → report → save cycle.
type Session struct {
	runner    runner
	in        *bufio.Reader
	out       io.Writer
	outputDir string
	autoSave  bool
	now       func() time.Time
}

type Option func(*Session)

// WithOutputDir sets where saved transcripts are written (default: working directory).
func WithOutputDir(dir string) Option { return func(s *Session) { s.outputDir = dir } }

// WithAutoSave saves the transcript without asking.
func WithAutoSave(v bool) Option { return func(s *Session) { s.autoSave = v } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

func NewSession(r runner, in io.Reader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		runner:    r,
		in:        bufio.NewReader(in),
		out:       out,
		outputDir: ".",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePath strips surrounding quotes and rewrites WSL UNC paths to
// their Linux form.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, `"`)
	p = strings.Trim(p, `'`)
	if strings.HasPrefix(p, `\\wsl.localhost\`) {
		p = strings.ReplaceAll(p, wslPrefix, "/")
		p = strings.ReplaceAll(p, `\`, "/")
	}
	return p
}

// Stats returns the character and word counts of text.
func Stats(text string) (chars, words int) {
	return utf8.RuneCountInString(text), len(strings.Fields(text))
}

// Run transcribes path, prompting for it when empty. An empty transcript is
// reported but is not an error.
func (s *Session) Run(ctx context.Context, path string) error {
	if path == "" {
		s.println("Multi-Language Audio Transcription Tool")
		s.println(rule)
		s.println("Enter the path to your audio file (MP3/WAV):")
		line, err := s.prompt("→ ")
		if err != nil && line == "" {
			return fmt.Errorf("read path: %w", err)
		}
		path = line
	}
	path = NormalizePath(path)

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		s.printf("File not found at: %s\n", path)
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	res := s.runner.RunObserved(ctx, path, s.progress)
	defer s.println("\nCleanup completed")

	switch {
	case res.Failed():
		s.printf("%s\n", res.Error)
		return res.Err
	case res.Empty():
		s.printf("Language: %s (%s)\n", res.LanguageName, res.Language)
		s.println(res.Error)
		s.println("\nTroubleshooting tips:")
		for _, tip := range troubleshootingTips {
			s.printf("  • %s\n", tip)
		}
		return nil
	}

	chars, words := Stats(res.Transcript)
	s.printf("\nTranscription Results (%s):\n", res.LanguageName)
	s.println(rule + "==========")
	s.println(res.Transcript)
	s.println(rule + "==========")
	s.println("\nTranscription completed successfully!")
	s.printf("Language: %s\n", res.LanguageName)
	s.printf("Length: %d characters\n", chars)
	s.printf("Word count: %d\n", words)

	save := s.autoSave
	if !save {
		answer, _ := s.prompt("\nSave transcription to file? (y/n): ")
		save = strings.EqualFold(answer, "y")
	}
	if !save {
		return nil
	}
	file, err := SaveTranscript(s.outputDir, path, res, s.now())
	if err != nil {
		s.printf("Failed to save transcription: %v\n", err)
		return err
	}
	s.printf("Transcription saved to: %s\n", file)
	return nil
}

func (s *Session) progress(ev pipeline.Event) {
	switch ev.State {
	case pipeline.StateSeparating:
		s.println("Isolating vocals...")
	case pipeline.StateDetecting:
		s.println("\nDetecting language...")
	case pipeline.StateTranscribing:
		s.println("\nExtracting lyrics (speech-to-text)...")
	}
}

// SaveTranscript writes <base>_transcription_<lang>_<YYYYmmdd_HHMMSS>.txt
// under dir and returns its path.
func SaveTranscript(dir, audioPath string, res pipeline.Result, now time.Time) (string, error) {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	name := fmt.Sprintf("%s_transcription_%s_%s.txt", base, res.Language, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "Audio File: %s\n", audioPath)
	fmt.Fprintf(&b, "Language: %s (%s)\n", res.LanguageName, res.Language)
	fmt.Fprintf(&b, "Transcription Date: %s\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString(rule + "\n\n")
	b.WriteString(res.Transcript)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Session) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	line, err := s.in.ReadString('\n')
	return strings.TrimSpace(line), err
}

func (s *Session) println(a ...any) { fmt.Fprintln(s.out, a...) }

func (s *Session) printf(format string, a ...any) { fmt.Fprintf(s.out, format, a...) }
