package localmedia

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// Tools is the glue around the ffmpeg/ffprobe binaries the worker runtime
// must carry. Synchronous and deterministic; call from worker jobs, not
// request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, videoPath string) (ProbeResult, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string, opts AudioExtractOptions) (string, error)

	// SampleFrames pulls frames at a bounded fps for content-delta scene
	// detection. Frame N of the fps filter lands at N/fps seconds.
	SampleFrames(ctx context.Context, videoPath string, outDir string, opts FrameSampleOptions) ([]SampledFrame, error)

	// ExtractFrameAt grabs a single frame near the given timestamp.
	ExtractFrameAt(ctx context.Context, videoPath string, outPath string, timestampS float64, width int) (string, error)

	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
	TempDir(ctx context.Context, prefix string) (string, func(), error)
}

type ProbeResult struct {
	DurationS  float64
	Width      int
	Height     int
	FrameRate  float64
	HasAudio   bool
	VideoCodec string
	AudioCodec string
	FormatName string
	SizeBytes  int64
}

type AudioExtractOptions struct {
	SampleRateHz int
	Channels     int
	Format       string // "wav" or "flac"
}

type FrameSampleOptions struct {
	FPS         float64
	Width       int
	MaxFrames   int
	JPEGQuality int
}

type SampledFrame struct {
	Path       string
	TimestampS float64
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	workRoot := strings.TrimSpace(os.Getenv("LOCALMEDIA_WORK_DIR"))
	if workRoot == "" {
		workRoot = "/tmp/heimdex-media"
	}
	timeout := 10 * time.Minute
	if v := strings.TrimSpace(os.Getenv("LOCALMEDIA_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &tools{
		log:            log.With("service", "LocalMedia"),
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		workRoot:       workRoot,
		defaultTimeout: timeout,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	_ = ctxutil.Default(ctx)
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

// ---------- probe ----------

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

func (m *tools) Probe(ctx context.Context, videoPath string) (ProbeResult, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(videoPath) == "" {
		return ProbeResult{}, fmt.Errorf("videoPath required")
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(raw []byte) (ProbeResult, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe json: %w", err)
	}

	res := ProbeResult{
		FormatName: strings.TrimSpace(parsed.Format.FormatName),
		DurationS:  parseProbeFloat(parsed.Format.Duration),
		SizeBytes:  int64(parseProbeFloat(parsed.Format.Size)),
	}

	var video *ffprobeStream
	for i := range parsed.Streams {
		s := &parsed.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			res.HasAudio = true
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	if video == nil {
		return ProbeResult{}, fmt.Errorf("no video stream found")
	}

	res.VideoCodec = video.CodecName
	res.Width = video.Width
	res.Height = video.Height
	res.FrameRate = parseFrameRate(video.RFrameRate)
	if res.FrameRate <= 0 {
		res.FrameRate = parseFrameRate(video.AvgFrameRate)
	}
	if res.DurationS <= 0 {
		res.DurationS = parseProbeFloat(video.Duration)
	}
	if res.DurationS <= 0 {
		return ProbeResult{}, fmt.Errorf("probe found no usable duration")
	}
	return res, nil
}

// parseFrameRate handles ffprobe's "30000/1001" fraction form and plain
// numbers.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n := parseProbeFloat(num)
		d := parseProbeFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseProbeFloat(s)
}

func parseProbeFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// ---------- audio ----------

func (m *tools) ExtractAudio(ctx context.Context, videoPath string, outPath string, opts AudioExtractOptions) (string, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return "", fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	sr := opts.SampleRateHz
	if sr <= 0 {
		sr = 16000
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = 1
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "wav"
	}
	if format != "wav" && format != "flac" {
		return "", fmt.Errorf("unsupported audio format: %s", format)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", strconv.Itoa(ch),
		"-ar", strconv.Itoa(sr),
		"-f", format,
		outPath,
	}

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg extract audio failed: %w; out=%s", err, truncateOutput(out))
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio output missing at %s", outPath)
	}
	return outPath, nil
}

// ---------- frames ----------

func (m *tools) SampleFrames(ctx context.Context, videoPath string, outDir string, opts FrameSampleOptions) ([]SampledFrame, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return nil, fmt.Errorf("videoPath required")
	}
	if outDir == "" {
		return nil, fmt.Errorf("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir outDir: %w", err)
	}

	fps := opts.FPS
	if fps <= 0 {
		fps = 2.0
	}
	maxFrames := opts.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 2000
	}
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 4
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	vf := fmt.Sprintf("fps=%0.6f", fps)
	if opts.Width > 0 {
		vf += fmt.Sprintf(",scale=%d:-1", opts.Width)
	}

	outPattern := filepath.Join(outDir, "frame_%06d.jpg")
	args := []string{
		"-y",
		"-i", videoPath,
		"-vf", vf,
		"-q:v", strconv.Itoa(quality),
		outPattern,
	}

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg sample frames failed: %w; out=%s", err, truncateOutput(out))
	}

	paths, _ := globSorted(outDir, `^frame_\d+\.jpe?g$`)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames produced by ffmpeg")
	}
	if len(paths) > maxFrames {
		paths = paths[:maxFrames]
	}

	frames := make([]SampledFrame, 0, len(paths))
	for i, p := range paths {
		frames = append(frames, SampledFrame{
			Path:       p,
			TimestampS: float64(i) / fps,
		})
	}
	return frames, nil
}

func (m *tools) ExtractFrameAt(ctx context.Context, videoPath string, outPath string, timestampS float64, width int) (string, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return "", fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if timestampS < 0 {
		timestampS = 0
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(timestampS, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
	}
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-1", width))
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg extract frame failed: %w; out=%s", err, truncateOutput(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("frame output missing at %s", outPath)
	}
	return outPath, nil
}

// ---------- scratch space ----------

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	_ = ctxutil.Default(ctx)
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, base+suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func (m *tools) TempDir(ctx context.Context, prefix string) (string, func(), error) {
	_ = ctxutil.Default(ctx)
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, prefix+"-")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}

// ---------- helpers ----------

func globSorted(dir string, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(strings.ToLower(e.Name())) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func truncateOutput(out []byte) string {
	const max = 2048
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}
