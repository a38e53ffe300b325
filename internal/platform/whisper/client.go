package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/pkg/httpx"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// Segment is one recognized span of audio. NoSpeechProb and AvgLogprob feed
// the transcript quality gate.
type Segment struct {
	ID           int
	Start        float64
	End          float64
	Text         string
	NoSpeechProb float64
	AvgLogprob   float64
}

// Transcription is the full result for one audio file.
type Transcription struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Transcriber sends extracted audio to a whisper-compatible HTTP service
// (verbose_json response format) and normalizes the result.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, langHint string) (Transcription, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("WHISPER_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing WHISPER_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("WHISPER_MODEL"))
	if model == "" {
		model = "whisper-1"
	}

	// Long audio transcribes slowly; the default leaves room for an hour of
	// video at real-time-ish speed.
	timeoutSec := 600
	if v := os.Getenv("WHISPER_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 2
	if v := os.Getenv("WHISPER_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "WhisperClient"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("WHISPER_API_KEY")),
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type verboseSegment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	AvgLogprob   float64 `json:"avg_logprob"`
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

func (c *client) Transcribe(ctx context.Context, audioPath string, langHint string) (Transcription, error) {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return Transcription{}, fmt.Errorf("audio path required")
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return Transcription{}, fmt.Errorf("read audio: empty file %s", audioPath)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return Transcription{}, err
	}
	_ = writer.WriteField("model", c.model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("temperature", "0")
	if lang := normalizeLanguage(langHint); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return Transcription{}, err
	}

	var resp verboseResponse
	if err := c.doMultipart(ctx, "/v1/audio/transcriptions", buf.Bytes(), writer.FormDataContentType(), &resp); err != nil {
		return Transcription{}, err
	}
	return normalizeTranscription(resp), nil
}

// doMultipart posts a prebuilt multipart payload, retrying retryable failures.
// The payload is rebuilt per attempt from the same bytes so retries are safe.
func (c *client) doMultipart(ctx context.Context, path string, payload []byte, contentType string, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.postOnce(ctx, path, payload, contentType)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("whisper decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		retryAfter := ""
		if resp != nil {
			retryAfter = resp.Header.Get("Retry-After")
		}
		sleepFor := httpx.RetryAfterDuration(retryAfter, backoff, 30*time.Second)

		c.log.Warn("Whisper request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		if sleepErr := httpx.JitterSleep(ctx, sleepFor); sleepErr != nil {
			return sleepErr
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) postOnce(ctx context.Context, path string, payload []byte, contentType string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &whisperHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

type whisperHTTPError struct {
	StatusCode int
	Body       string
}

func (e *whisperHTTPError) Error() string {
	return fmt.Sprintf("whisper http %d: %s", e.StatusCode, e.Body)
}

func (e *whisperHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func normalizeTranscription(resp verboseResponse) Transcription {
	out := Transcription{
		Text:     strings.TrimSpace(resp.Text),
		Language: normalizeLanguage(resp.Language),
		Duration: resp.Duration,
		Segments: make([]Segment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			ID:           s.ID,
			Start:        s.Start,
			End:          s.End,
			Text:         text,
			NoSpeechProb: s.NoSpeechProb,
			AvgLogprob:   s.AvgLogprob,
		})
	}
	sort.SliceStable(out.Segments, func(i, j int) bool {
		return out.Segments[i].Start < out.Segments[j].Start
	})
	if out.Text == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			parts = append(parts, s.Text)
		}
		out.Text = strings.Join(parts, " ")
	}
	return out
}

// Whisper services disagree on language spelling ("english" vs "en"); the
// pipeline keys decisions off ISO 639-1 codes.
var languageNames = map[string]string{
	"english":    "en",
	"korean":     "ko",
	"japanese":   "ja",
	"chinese":    "zh",
	"mandarin":   "zh",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"russian":    "ru",
	"italian":    "it",
	"vietnamese": "vi",
	"thai":       "th",
	"indonesian": "id",
	"hindi":      "hi",
	"arabic":     "ar",
}

func normalizeLanguage(lang string) string {
	s := strings.ToLower(strings.TrimSpace(lang))
	if s == "" {
		return ""
	}
	if code, ok := languageNames[s]; ok {
		return code
	}
	// Already a code ("en", "ko", "en-US" → "en").
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	if len(s) == 2 || len(s) == 3 {
		return s
	}
	return s
}
