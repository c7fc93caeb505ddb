package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/config"
)

const maxErrorBody = 4096

type deepgramRecognizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewDeepgramRecognizer posts WAV files to the listen endpoint. Each call is
// a single attempt bounded by cfg.TimeoutMS.
func NewDeepgramRecognizer(cfg config.STTConfig, client *http.Client) Recognizer {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	}
	return &deepgramRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "?"),
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

func (d *deepgramRecognizer) Recognize(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}

	url := d.endpoint + "?" + opts.Query().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, file)
	if err != nil {
		return nil, err
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listen request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &out, nil
}
