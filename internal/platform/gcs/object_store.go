package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// ObjectStore is the single-bucket media store. Uploads on an identical key
// are idempotent overwrites.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	SignedDownloadURL(key string, ttl time.Duration) (string, error)
	SignedUploadURL(key, contentType string, ttl time.Duration) (string, error)
	PublicURL(key string) string
	GCSURI(key string) string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type objectStore struct {
	log           *logger.Logger
	client        *storage.Client
	cfg           Config
	emulatorHost  string
	publicBaseURL string
}

func NewObjectStore(log *logger.Logger) (ObjectStore, error) {
	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewObjectStoreWithConfig(log, cfg)
}

func NewObjectStoreWithConfig(log *logger.Logger, cfg Config) (ObjectStore, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "ObjectStore")

	client, err := newStorageClientForMode(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"public_base_url", cfg.PublicBaseURL,
		"bucket", cfg.Bucket,
	)

	return &objectStore{
		log:           serviceLog,
		client:        client,
		cfg:           cfg,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg Config) (*storage.Client, error) {
	switch cfg.Mode {
	case ModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ModeEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ConfigError{
			Code: ConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

func (s *objectStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	if ct := strings.TrimSpace(contentType); ct != "" {
		w.ContentType = ct
	} else if ct := ContentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %q: %w", key, err)
	}
	return nil
}

// ContentTypeForKey guesses a content type from the key suffix.
func ContentTypeForKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return ""
	}
	if i := strings.Index(k, "?"); i >= 0 {
		k = k[:i]
	}
	switch {
	case strings.HasSuffix(k, ".png"):
		return "image/png"
	case strings.HasSuffix(k, ".jpg"), strings.HasSuffix(k, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(k, ".webp"):
		return "image/webp"
	case strings.HasSuffix(k, ".gif"):
		return "image/gif"
	case strings.HasSuffix(k, ".mp4"), strings.HasSuffix(k, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(k, ".webm"):
		return "video/webm"
	case strings.HasSuffix(k, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(k, ".mkv"):
		return "video/x-matroska"
	case strings.HasSuffix(k, ".avi"):
		return "video/x-msvideo"
	case strings.HasSuffix(k, ".json"):
		return "application/json"
	default:
		return ""
	}
}

func (s *objectStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	o := s.client.Bucket(s.cfg.Bucket).Object(key)
	if err := o.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %q in bucket %q: %w", key, s.cfg.Bucket, err)
	}
	return nil
}

func (s *objectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.client.Bucket(s.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *objectStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_ = s.Delete(ctx, k)
	}
	return nil
}

func (s *objectStore) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cfg.CDNDomain, key)
	}
	if s.cfg.IsEmulatorMode() {
		if u := s.emulatorObjectMediaURL(key); u != "" {
			return u
		}
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.cfg.Bucket, key)
}

func (s *objectStore) GCSURI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, strings.TrimLeft(strings.TrimSpace(key), "/"))
}

func (s *objectStore) SignedDownloadURL(key string, ttl time.Duration) (string, error) {
	return s.signedURL(key, http.MethodGet, "", ttl)
}

func (s *objectStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	return s.signedURL(key, http.MethodPut, contentType, ttl)
}

func (s *objectStore) signedURL(key, method, contentType string, ttl time.Duration) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	// The emulator cannot verify V4 signatures; hand back a direct media URL.
	if s.cfg.IsEmulatorMode() {
		return s.emulatorObjectMediaURL(key), nil
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	}
	if ct := strings.TrimSpace(contentType); ct != "" {
		opts.ContentType = ct
	}
	u, err := s.client.Bucket(s.cfg.Bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %q: %w", key, err)
	}
	return u, nil
}

// Attach the cancel to the reader's Close so the context survives for the
// life of the reader.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *objectStore) isEmulatorMode() bool {
	return s != nil && s.cfg.IsEmulatorMode() && strings.TrimSpace(s.emulatorHost) != ""
}

func (s *objectStore) emulatorObjectMediaURL(key string) string {
	base := s.publicBaseURL
	if base == "" {
		base = s.emulatorHost
	}
	if base == "" {
		return ""
	}
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		base,
		url.PathEscape(s.cfg.Bucket),
		url.PathEscape(key),
	)
}

func (s *objectStore) emulatorObjectMetaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		s.emulatorHost,
		url.PathEscape(s.cfg.Bucket),
		url.PathEscape(key),
	)
}

func (s *objectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.cfg.Bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *objectStore) OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator range request: %w", err)
		}
		if offset > 0 || length != 0 {
			var rangeHeader string
			if length > 0 {
				end := offset + length - 1
				rangeHeader = fmt.Sprintf("bytes=%d-%d", offset, end)
			} else {
				rangeHeader = fmt.Sprintf("bytes=%d-", offset)
			}
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator range request: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator range read failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.cfg.Bucket).Object(key).NewRangeReader(ctx2, offset, length)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open range reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *objectStore) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMetaURL(key), nil)
		if err != nil {
			return nil, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var payload struct {
			Size        string `json:"size"`
			ContentType string `json:"contentType"`
			Updated     string `json:"updated"`
			ETag        string `json:"etag"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		updated := time.Time{}
		if ts := strings.TrimSpace(payload.Updated); ts != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
				updated = parsed
			}
		}
		return &ObjectAttrs{
			Size:        size,
			ContentType: payload.ContentType,
			Updated:     updated,
			ETag:        payload.ETag,
		}, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := s.client.Bucket(s.cfg.Bucket).Object(key).Attrs(ctx2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}
