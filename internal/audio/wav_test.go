package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-lyrics/internal/audio/audiotest"
)

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	audiotest.WriteTone(t, path, 1)

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 8000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Duration.Seconds() < 0.9 || info.Duration.Seconds() > 1.1 {
		t.Fatalf("unexpected duration: %s", info.Duration)
	}
}

func TestInspectRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(path, []byte("ID3 not really audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestPeakAmplitude(t *testing.T) {
	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	silence := filepath.Join(dir, "silence.wav")
	audiotest.WriteTone(t, tone, 0.5)
	audiotest.WriteSilence(t, silence, 0.5)

	peak, err := PeakAmplitude(tone)
	if err != nil {
		t.Fatalf("peak: %v", err)
	}
	if peak < 0.4 {
		t.Fatalf("tone peak too low: %f", peak)
	}

	peak, err = PeakAmplitude(silence)
	if err != nil {
		t.Fatalf("peak: %v", err)
	}
	if peak != 0 {
		t.Fatalf("silence peak = %f", peak)
	}
}
