package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/pkg/httpx"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// ImageEmbedder talks to a CLIP inference service. Both towers return vectors
// in the same space, so a text query can be scored against stored keyframe
// embeddings.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
	EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error)

	// Model reports the CLIP model id in use (recorded in per-vector metadata).
	Model() string
	// Dim reports the configured vector size, 0 when unvalidated.
	Dim() int
}

type client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	expectedDim int
	httpClient  *http.Client
	maxRetries  int
}

func NewClient(log *logger.Logger) (ImageEmbedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("CLIP_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing CLIP_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("CLIP_MODEL"))
	if model == "" {
		model = "ViT-B-32"
	}

	expectedDim := 512
	if v := strings.TrimSpace(os.Getenv("CLIP_EXPECTED_DIM")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			expectedDim = parsed
		}
	}

	timeoutSec := 60
	if v := os.Getenv("CLIP_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("CLIP_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:         log.With("service", "ClipClient"),
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(os.Getenv("CLIP_API_KEY")),
		model:       model,
		expectedDim: expectedDim,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
	}, nil
}

func (c *client) Model() string { return c.model }
func (c *client) Dim() int      { return c.expectedDim }

type embedImageRequest struct {
	Model    string `json:"model"`
	ImageB64 string `json:"image_b64"`
}

type embedTextRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Model     string    `json:"model,omitempty"`
	Dim       int       `json:"dim,omitempty"`
}

func (c *client) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	imagePath = strings.TrimSpace(imagePath)
	if imagePath == "" {
		return nil, fmt.Errorf("image path required")
	}
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("read frame: empty file %s", imagePath)
	}

	req := embedImageRequest{
		Model:    c.model,
		ImageB64: base64.StdEncoding.EncodeToString(raw),
	}
	var resp embedResponse
	if err := c.do(ctx, "/v1/embeddings/image", req, &resp); err != nil {
		return nil, err
	}
	return c.validateVector(resp, "image")
}

func (c *client) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text required")
	}

	req := embedTextRequest{
		Model: c.model,
		Text:  text,
	}
	var resp embedResponse
	if err := c.do(ctx, "/v1/embeddings/text", req, &resp); err != nil {
		return nil, err
	}
	return c.validateVector(resp, "text")
}

func (c *client) validateVector(resp embedResponse, tower string) ([]float32, error) {
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("clip %s embedding empty model=%s", tower, c.model)
	}
	if c.expectedDim > 0 && len(resp.Embedding) != c.expectedDim {
		return nil, fmt.Errorf("clip %s embedding dimension mismatch: expected=%d actual=%d model=%s",
			tower, c.expectedDim, len(resp.Embedding), c.model)
	}
	out := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("clip %s embedding not finite at index %d model=%s", tower, i, c.model)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (c *client) do(ctx context.Context, path string, in any, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.postOnce(ctx, path, in)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("clip decode error: %w", uErr)
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
		sleepFor := httpx.RetryAfterDuration(retryAfter, backoff, 10*time.Second)

		c.log.Warn("CLIP request retrying",
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

func (c *client) postOnce(ctx context.Context, path string, in any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
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
		return resp, raw, &clipHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

type clipHTTPError struct {
	StatusCode int
	Body       string
}

func (e *clipHTTPError) Error() string {
	return fmt.Sprintf("clip http %d: %s", e.StatusCode, e.Body)
}

func (e *clipHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}
