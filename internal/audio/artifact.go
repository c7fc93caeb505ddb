// Package audio normalizes input audio into the canonical waveform the
// recognizers expect and inspects the resulting WAV artifacts.
package audio

import (
	"path/filepath"
	"strings"
	"time"
)

// Format describes an artifact's container and encoding.
type Format string

const (
	// FormatWAV is a WAV file of unknown encoding, e.g. a separator stem.
	FormatWAV Format = "wav"
	// FormatPCM16 is mono 16-bit PCM WAV produced by the normalizer.
	FormatPCM16 Format = "wav/pcm_s16le"
)

// Artifact references a waveform file on disk. Stages pass artifacts by
// reference and never modify one they did not create.
type Artifact struct {
	Path   string
	Format Format
	// MaxDuration is non-zero when the artifact was truncated to a leading window.
	MaxDuration time.Duration
}

// Stem returns the file name without directory or extension.
func (a Artifact) Stem() string {
	base := filepath.Base(a.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Sibling returns a WAV path next to the artifact, named <stem><suffix>.wav.
func (a Artifact) Sibling(suffix string) string {
	return filepath.Join(filepath.Dir(a.Path), a.Stem()+suffix+".wav")
}

// Truncated reports whether the artifact only covers a leading window.
func (a Artifact) Truncated() bool {
	return a.MaxDuration > 0
}
