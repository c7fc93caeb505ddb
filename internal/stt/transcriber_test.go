package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lyrics/internal/audio"
	"github.com/loqalabs/loqa-lyrics/internal/audio/audiotest"
	"github.com/loqalabs/loqa-lyrics/internal/command"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// copyNormalizer writes a tone to the requested output instead of running ffmpeg.
type copyNormalizer struct {
	t       *testing.T
	outputs []string
	err     error
}

func (c *copyNormalizer) Normalize(_ context.Context, _, output string, maxDuration time.Duration) (audio.Artifact, error) {
	c.outputs = append(c.outputs, output)
	if c.err != nil {
		return audio.Artifact{}, c.err
	}
	audiotest.WriteTone(c.t, output, 0.1)
	return audio.Artifact{Path: output, Format: audio.FormatPCM16, MaxDuration: maxDuration}, nil
}

type recordingRecognizer struct {
	opts []Options
	resp *Response
	err  error
}

func (r *recordingRecognizer) Recognize(_ context.Context, _ string, opts Options) (*Response, error) {
	r.opts = append(r.opts, opts)
	return r.resp, r.err
}

func transcriptResponse(text string) *Response {
	return &Response{Results: &Results{Channels: []Channel{{Alternatives: []Alternative{{Transcript: &text}}}}}}
}

func vocalArtifact(t *testing.T) audio.Artifact {
	return audio.Artifact{Path: filepath.Join(t.TempDir(), "song", "vocals.wav"), Format: audio.FormatWAV}
}

func TestTranscribeEnglishPinsLanguage(t *testing.T) {
	norm := &copyNormalizer{t: t}
	rec := &recordingRecognizer{resp: transcriptResponse("  hello world \n")}
	tr := NewTranscriber(norm, rec, "nova-3", newLogger())

	vocal := vocalArtifact(t)
	text, err := tr.Transcribe(context.Background(), vocal, "en")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	require.Len(t, rec.opts, 1)
	assert.Equal(t, Options{Model: "nova-3", Language: "en", Punctuate: true}, rec.opts[0])
	assert.Equal(t, []string{vocal.Sibling("_reencoded")}, norm.outputs)
}

func TestTranscribeOtherLanguagesUseMultilingual(t *testing.T) {
	for _, code := range []string{"es", "fr", "ja"} {
		rec := &recordingRecognizer{resp: transcriptResponse("x")}
		tr := NewTranscriber(&copyNormalizer{t: t}, rec, "nova-3", newLogger())
		_, err := tr.Transcribe(context.Background(), vocalArtifact(t), code)
		require.NoError(t, err)
		assert.Equal(t, "multi", rec.opts[0].Language, code)
	}
}

func TestTranscribeEmptyIsNotAnError(t *testing.T) {
	tr := NewTranscriber(&copyNormalizer{t: t}, &recordingRecognizer{resp: transcriptResponse("   ")}, "nova-3", newLogger())
	text, err := tr.Transcribe(context.Background(), vocalArtifact(t), "en")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscribeRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	tr := NewTranscriber(&copyNormalizer{t: t}, rec, "nova-3", newLogger())

	text, err := tr.Transcribe(context.Background(), vocalArtifact(t), "en")
	assert.Empty(t, text)
	var te *TranscriptionError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode())
}

func TestTranscribeMalformedResponse(t *testing.T) {
	tr := NewTranscriber(&copyNormalizer{t: t}, &recordingRecognizer{resp: &Response{}}, "nova-3", newLogger())
	_, err := tr.Transcribe(context.Background(), vocalArtifact(t), "en")

	var te *TranscriptionError
	var me *MalformedResponseError
	assert.True(t, errors.As(err, &te))
	assert.True(t, errors.As(err, &me))
}

func TestTranscribeEncodingFailureSkipsRecognizer(t *testing.T) {
	encErr := &audio.EncodingError{Input: "vocals.wav", Err: errors.New("ffmpeg missing")}
	rec := &recordingRecognizer{resp: transcriptResponse("x")}
	tr := NewTranscriber(&copyNormalizer{t: t, err: encErr}, rec, "nova-3", newLogger())

	_, err := tr.Transcribe(context.Background(), vocalArtifact(t), "en")
	var got *audio.EncodingError
	assert.True(t, errors.As(err, &got))
	assert.Empty(t, rec.opts)
}

func TestMockRecognizerSilence(t *testing.T) {
	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	silence := filepath.Join(dir, "silence.wav")
	audiotest.WriteTone(t, tone, 0.2)
	audiotest.WriteSilence(t, silence, 0.2)

	rec := NewMockRecognizer("la la la", "")
	resp, err := rec.Recognize(context.Background(), tone, Options{DetectLanguage: true})
	require.NoError(t, err)
	text, _ := FirstTranscript(resp)
	assert.Equal(t, "la la la", text)
	ch, _ := resp.FirstChannel()
	require.NotNil(t, ch.DetectedLanguage)
	assert.Equal(t, "en", *ch.DetectedLanguage)

	resp, err = rec.Recognize(context.Background(), silence, Options{})
	require.NoError(t, err)
	text, _ = FirstTranscript(resp)
	assert.Empty(t, text)
}

type stdoutRunner struct {
	args   []string
	stdout string
}

func (s *stdoutRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	s.args = append([]string{name}, args...)
	return command.Result{Stdout: s.stdout}, nil
}

func TestExecRecognizerArgs(t *testing.T) {
	runner := &stdoutRunner{stdout: `{"results":{"channels":[{"alternatives":[{"transcript":"local"}]}]}}`}
	rec, err := NewExecRecognizer(config.STTConfig{Command: "whisper-json --threads 2"}, runner)
	require.NoError(t, err)

	resp, err := rec.Recognize(context.Background(), "/tmp/a.wav", Options{Model: "base", Language: "multi", DetectLanguage: true})
	require.NoError(t, err)
	text, err := FirstTranscript(resp)
	require.NoError(t, err)
	assert.Equal(t, "local", text)
	assert.Equal(t, []string{"whisper-json", "--threads", "2", "--audio", "/tmp/a.wav", "--model", "base", "--language", "multi", "--detect-language"}, runner.args)
}

func TestNewRecognizerModes(t *testing.T) {
	for _, mode := range []string{"deepgram", "mock"} {
		_, err := NewRecognizer(config.STTConfig{Mode: mode, Endpoint: "http://x", APIKey: "k"}, nil)
		assert.NoError(t, err, mode)
	}
	_, err := NewRecognizer(config.STTConfig{Mode: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
