package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lyrics/internal/audio/audiotest"
	"github.com/loqalabs/loqa-lyrics/internal/config"
)

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocals_detection.wav")
	audiotest.WriteTone(t, path, 0.1)
	return path
}

func TestDeepgramRecognizeSendsRequest(t *testing.T) {
	var (
		gotAuth, gotType, gotQuery string
		gotBody                    int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = len(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":{"channels":[{"detected_language":"es","alternatives":[{"transcript":"hola","confidence":0.9}]}]}}`)
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "secret"}, srv.Client())
	resp, err := rec.Recognize(context.Background(), writeSample(t), Options{DetectLanguage: true, Punctuate: true, SmartFormat: true})
	require.NoError(t, err)

	assert.Equal(t, "Token secret", gotAuth)
	assert.Equal(t, "audio/wav", gotType)
	assert.Equal(t, "detect_language=true&punctuate=true&smart_format=true", gotQuery)
	assert.Greater(t, gotBody, 44)

	ch, ok := resp.FirstChannel()
	require.True(t, ok)
	require.NotNil(t, ch.DetectedLanguage)
	assert.Equal(t, "es", *ch.DetectedLanguage)
	text, err := FirstTranscript(resp)
	require.NoError(t, err)
	assert.Equal(t, "hola", text)
}

func TestDeepgramRecognizeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	_, err := rec.Recognize(context.Background(), writeSample(t), Options{Model: "nova-3"})

	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Body, "upstream exploded")
}

func TestDeepgramRecognizeDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	}))
	defer srv.Close()

	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	_, err := rec.Recognize(context.Background(), writeSample(t), Options{})

	var de *DecodeError
	assert.True(t, errors.As(err, &de), "got %v", err)
}

func TestDeepgramRecognizeMissingFile(t *testing.T) {
	rec := NewDeepgramRecognizer(config.STTConfig{Endpoint: "http://127.0.0.1:0", APIKey: "k"}, nil)
	_, err := rec.Recognize(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), Options{})
	assert.Error(t, err)
}

func TestFirstTranscriptMalformed(t *testing.T) {
	empty := ""
	cases := map[string]*Response{
		"nil":             nil,
		"no results":      {},
		"no channels":     {Results: &Results{}},
		"no alternatives": {Results: &Results{Channels: []Channel{{}}}},
		"no transcript":   {Results: &Results{Channels: []Channel{{Alternatives: []Alternative{{}}}}}},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FirstTranscript(resp)
			var me *MalformedResponseError
			assert.True(t, errors.As(err, &me), "got %v", err)
		})
	}

	text, err := FirstTranscript(&Response{Results: &Results{Channels: []Channel{{Alternatives: []Alternative{{Transcript: &empty}}}}}})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOptionsQuery(t *testing.T) {
	q := Options{Model: "nova-3", Language: "multi", Punctuate: true}.Query()
	assert.Equal(t, "language=multi&model=nova-3&punctuate=true", q.Encode())
}
