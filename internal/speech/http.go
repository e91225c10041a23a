package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nawkwoo/voice-chat/internal/reliability"
)

// HTTPConfig points the HTTP provider at external model services.
type HTTPConfig struct {
	STTURL  string
	LLMURL  string
	TTSURL  string
	Timeout time.Duration
}

// HTTPProvider forwards model calls to JSON HTTP services. One provider
// implements all three contracts so wiring mirrors a single backend host.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.STTURL) == "" ||
		strings.TrimSpace(cfg.LLMURL) == "" ||
		strings.TrimSpace(cfg.TTSURL) == "" {
		return nil, errors.New("stt, llm, and tts urls are all required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	req := map[string]string{
		"audio":    base64.StdEncoding.EncodeToString(pcm),
		"language": language,
	}
	var res struct {
		Text string `json:"text"`
	}
	if err := p.postJSON(ctx, p.cfg.STTURL, req, &res); err != nil {
		return "", fmt.Errorf("stt: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func (p *HTTPProvider) Generate(ctx context.Context, prompt string) (string, error) {
	req := map[string]string{"prompt": prompt}
	var res struct {
		Text string `json:"text"`
	}
	if err := p.postJSON(ctx, p.cfg.LLMURL, req, &res); err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: empty text")
	}
	req := map[string]string{"text": text}
	var res struct {
		Audio string `json:"audio"`
	}
	if err := p.postJSON(ctx, p.cfg.TTSURL, req, &res); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(res.Audio)
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts: empty audio")
	}
	return audio, nil
}

const maxAttempts = 3

// postJSON issues one model call, retrying throttled and transient upstream
// failures with capped backoff.
func (p *HTTPProvider) postJSON(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		retryable, err := p.attempt(ctx, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (p *HTTPProvider) attempt(ctx context.Context, url string, payload []byte, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("http status %d: %s", res.StatusCode, string(body))
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 32<<20)).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
