package gcpvideo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// Shot is a camera shot boundary pair in seconds from video start.
type Shot struct {
	StartS float64
	EndS   float64
}

// ShotDetector runs cloud shot-change detection against a video already
// uploaded to GCS. It backs the "cloud" scene detection strategy.
type ShotDetector interface {
	DetectShots(ctx context.Context, gcsURI string) ([]Shot, error)
	Close() error
}

type shotDetector struct {
	log        *logger.Logger
	client     *videointelligence.Client
	maxRetries int
}

func NewShotDetector(log *logger.Logger) (ShotDetector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcpvideo.ShotDetector")

	c, err := videointelligence.NewClient(context.Background(), gcs.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}

	return &shotDetector{
		log:        slog,
		client:     c,
		maxRetries: 4,
	}, nil
}

func (s *shotDetector) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *shotDetector) DetectShots(ctx context.Context, gcsURI string) ([]Shot, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}

	req := &vipb.AnnotateVideoRequest{
		InputUri: gcsURI,
		Features: []vipb.Feature{vipb.Feature_SHOT_CHANGE_DETECTION},
	}

	started := time.Now()
	resp, err := s.retryAnnotate(ctx, func() (*vipb.AnnotateVideoResponse, error) {
		op, err := s.client.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}

	if resp == nil || len(resp.AnnotationResults) == 0 || resp.AnnotationResults[0] == nil {
		s.log.Warn("shot detection returned no annotation results", "gcs_uri", gcsURI)
		return []Shot{}, nil
	}

	shots := parseShots(resp.AnnotationResults[0].ShotAnnotations)
	s.log.Info("shot detection complete",
		"gcs_uri", gcsURI,
		"shots", len(shots),
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return shots, nil
}

func parseShots(segments []*vipb.VideoSegment) []Shot {
	out := []Shot{}
	for _, sg := range segments {
		if sg == nil {
			continue
		}
		start := durToSec(sg.StartTimeOffset)
		end := durToSec(sg.EndTimeOffset)
		if end <= start {
			continue
		}
		out = append(out, Shot{StartS: start, EndS: end})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartS == out[j].StartS {
			return out[i].EndS < out[j].EndS
		}
		return out[i].StartS < out[j].StartS
	})
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *shotDetector) retryAnnotate(ctx context.Context, fn func() (*vipb.AnnotateVideoResponse, error)) (*vipb.AnnotateVideoResponse, error) {
	backoff := 750 * time.Millisecond
	var last error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
