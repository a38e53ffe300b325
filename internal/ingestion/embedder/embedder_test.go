package embedder

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
)

type fakeTextClient struct {
	calls    int
	failWith error
	failN    int // fail the first N calls, then succeed
	vec      []float32
}

func (f *fakeTextClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failWith != nil && (f.failN <= 0 || f.calls <= f.failN) {
		return nil, f.failWith
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		v := f.vec
		if v == nil {
			v = []float32{3, 4}
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func (f *fakeTextClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeTextClient) GenerateJSONWithImages(ctx context.Context, system, user string, images []openai.ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeTextClient) EmbedModel() string { return "text-embedding-test" }

type fakeImageEmbedder struct {
	calls    int
	failWith error
	vec      []float32
}

func (f *fakeImageEmbedder) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.vec != nil {
		return append([]float32(nil), f.vec...), nil
	}
	return []float32{1, 2, 2}, nil
}

func (f *fakeImageEmbedder) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeImageEmbedder) Model() string { return "clip-test" }
func (f *fakeImageEmbedder) Dim() int      { return 3 }

type transientError struct{ status int }

func (e *transientError) Error() string       { return fmt.Sprintf("upstream returned %d", e.status) }
func (e *transientError) HTTPStatusCode() int { return e.status }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func fastConfig() Config {
	return Config{
		SummaryEnabled:    true,
		VisualIncludeTags: true,
		MaxRetries:        2,
		RetryDelayS:       0.001,
		Version:           "v1",
	}
}

func writeFrame(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte("not really a jpeg"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return path
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedSceneAllChannels(t *testing.T) {
	texts := &fakeTextClient{}
	images := &fakeImageEmbedder{}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, images, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{
		Transcript:  "Someone explains the recipe step by step.",
		Description: "A cook stirring a pot in a bright kitchen.",
		Summary:     "Cooking demonstration.",
		Tags:        []string{"kitchen", "cooking"},
		Language:    "en",
	}, writeFrame(t))
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}

	want := []string{types.ChannelTranscript, types.ChannelVisual, types.ChannelSummary, types.ChannelClipImage}
	for _, ch := range want {
		vec, ok := res.Vectors[ch]
		if !ok {
			t.Fatalf("channel %s: missing vector", ch)
		}
		if got := norm(vec); math.Abs(got-1.0) > 1e-5 {
			t.Errorf("channel %s: norm = %f, want 1.0", ch, got)
		}
		meta, ok := res.Metadata[ch]
		if !ok {
			t.Fatalf("channel %s: missing metadata", ch)
		}
		if meta.Error != "" {
			t.Errorf("channel %s: unexpected error %q", ch, meta.Error)
		}
		if meta.Dimensions != len(vec) {
			t.Errorf("channel %s: dimensions = %d, want %d", ch, meta.Dimensions, len(vec))
		}
		if meta.InputTextHash == "" || len(meta.InputTextHash) != 16 {
			t.Errorf("channel %s: input hash %q, want 16 hex chars", ch, meta.InputTextHash)
		}
		if meta.GeneratedAt.IsZero() {
			t.Errorf("channel %s: GeneratedAt not set", ch)
		}
	}
	if res.Metadata[types.ChannelTranscript].Model != "text-embedding-test" {
		t.Errorf("transcript model = %q", res.Metadata[types.ChannelTranscript].Model)
	}
	if res.Metadata[types.ChannelClipImage].Model != "clip-test" {
		t.Errorf("clip model = %q", res.Metadata[types.ChannelClipImage].Model)
	}
	if res.Metadata[types.ChannelTranscript].Language != "en" {
		t.Errorf("transcript language = %q", res.Metadata[types.ChannelTranscript].Language)
	}
}

func TestEmbedSceneEmptyInputs(t *testing.T) {
	texts := &fakeTextClient{}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{
		Description: "A beach at sunset.",
		Language:    "en",
	}, "")
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}

	if _, ok := res.Vectors[types.ChannelTranscript]; ok {
		t.Error("empty transcript produced a vector")
	}
	if got := res.Metadata[types.ChannelTranscript].Error; got != "empty_input" {
		t.Errorf("transcript error = %q, want empty_input", got)
	}
	if got := res.Metadata[types.ChannelSummary].Error; got != "empty_input" {
		t.Errorf("summary error = %q, want empty_input", got)
	}
	if _, ok := res.Vectors[types.ChannelVisual]; !ok {
		t.Error("visual channel should still embed")
	}
	if _, ok := res.Metadata[types.ChannelClipImage]; ok {
		t.Error("clip_image metadata present with no image embedder")
	}
	if texts.calls != 1 {
		t.Errorf("text client calls = %d, want 1", texts.calls)
	}
}

func TestEmbedSceneSummaryDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.SummaryEnabled = false
	texts := &fakeTextClient{}
	e, err := NewEmbedder(testLogger(t), cfg, texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{
		Transcript:  "hello there",
		Description: "two people waving",
		Summary:     "greeting",
	}, "")
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}
	if _, ok := res.Vectors[types.ChannelSummary]; ok {
		t.Error("summary vector produced while disabled")
	}
	if _, ok := res.Metadata[types.ChannelSummary]; ok {
		t.Error("summary metadata produced while disabled")
	}
}

func TestEmbedSceneVisualIncludesTags(t *testing.T) {
	e := &embedder{cfg: fastConfig()}
	got := e.visualInput(SceneText{
		Description: "A dog running on grass.",
		Tags:        []string{"dog", "park"},
	})
	if got != "A dog running on grass.\ndog, park" {
		t.Errorf("visualInput = %q", got)
	}

	e.cfg.VisualIncludeTags = false
	if got := e.visualInput(SceneText{Description: "A dog.", Tags: []string{"dog"}}); got != "A dog." {
		t.Errorf("visualInput without tags = %q", got)
	}

	e.cfg.VisualIncludeTags = true
	if got := e.visualInput(SceneText{Tags: []string{"dog", "park"}}); got != "dog, park" {
		t.Errorf("visualInput tags only = %q", got)
	}
}

func TestEmbedSceneRetriesTransient(t *testing.T) {
	texts := &fakeTextClient{failWith: &transientError{status: 503}, failN: 1}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{Transcript: "retry me"}, "")
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}
	if _, ok := res.Vectors[types.ChannelTranscript]; !ok {
		t.Fatal("transcript vector missing after recovery")
	}
	if texts.calls != 2 {
		t.Errorf("text client calls = %d, want 2 (one failure, one success)", texts.calls)
	}
}

func TestEmbedSceneRetryExhaustionIsSoft(t *testing.T) {
	texts := &fakeTextClient{failWith: &transientError{status: 503}}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{Transcript: "always fails"}, "")
	if err != nil {
		t.Fatalf("EmbedScene should not fail the scene: %v", err)
	}
	if _, ok := res.Vectors[types.ChannelTranscript]; ok {
		t.Error("vector produced despite failures")
	}
	meta := res.Metadata[types.ChannelTranscript]
	if !strings.Contains(meta.Error, "503") {
		t.Errorf("metadata error = %q, want upstream 503 reason", meta.Error)
	}
	// MaxRetries=2 means 3 attempts total per channel.
	if texts.calls != 3 {
		t.Errorf("text client calls = %d, want 3", texts.calls)
	}
}

func TestEmbedSceneNonRetryableFailsFast(t *testing.T) {
	texts := &fakeTextClient{failWith: fmt.Errorf("invalid api key")}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{Transcript: "doomed"}, "")
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}
	if texts.calls != 1 {
		t.Errorf("text client calls = %d, want 1 (no retry on permanent error)", texts.calls)
	}
	if got := res.Metadata[types.ChannelTranscript].Error; !strings.Contains(got, "invalid api key") {
		t.Errorf("metadata error = %q", got)
	}
}

func TestEmbedSceneCanceledContext(t *testing.T) {
	texts := &fakeTextClient{}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, nil, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EmbedScene(ctx, SceneText{Transcript: "too late"}, "")
	if err == nil {
		t.Fatal("EmbedScene should surface cancellation")
	}
}

func TestEmbedSceneImageFailureIsSoft(t *testing.T) {
	texts := &fakeTextClient{}
	images := &fakeImageEmbedder{failWith: fmt.Errorf("decode error")}
	e, err := NewEmbedder(testLogger(t), fastConfig(), texts, images, nil)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	res, err := e.EmbedScene(context.Background(), SceneText{Transcript: "speech"}, writeFrame(t))
	if err != nil {
		t.Fatalf("EmbedScene: %v", err)
	}
	if _, ok := res.Vectors[types.ChannelClipImage]; ok {
		t.Error("clip vector produced despite failure")
	}
	if got := res.Metadata[types.ChannelClipImage].Error; !strings.Contains(got, "decode error") {
		t.Errorf("clip metadata error = %q", got)
	}
	if _, ok := res.Vectors[types.ChannelTranscript]; !ok {
		t.Error("text channel should survive image failure")
	}
}

func TestSmartTruncate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short passes through", "hello world", 100, "hello world"},
		{"cuts at sentence end", "First sentence. Second sentence that runs long", 20, "First sentence."},
		{"cuts at word boundary", "word another word andthisoneislong", 25, "word another word"},
		{"hard cut when no boundary", "abcdefghijklmnopqrstuvwxyz", 10, "abcdefghij"},
		{"zero max keeps all", "anything at all", 0, "anything at all"},
		{"trims input", "  padded  ", 100, "padded"},
		{"cjk sentence ender", "첫 문장입니다。 두번째 문장이 깁니다", 9, "첫 문장입니다。"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SmartTruncate(tc.in, tc.max); got != tc.want {
				t.Errorf("SmartTruncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestSmartTruncateRespectsRuneBudget(t *testing.T) {
	in := strings.Repeat("가나다라 ", 100)
	got := SmartTruncate(in, 50)
	if n := len([]rune(got)); n > 50 {
		t.Errorf("result has %d runes, budget 50", n)
	}
	if got == "" {
		t.Error("result empty")
	}
}
