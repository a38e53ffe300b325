package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

const (
	AnalysisStatusOK        = "ok"
	AnalysisStatusNoContent = "no_content"
)

// VisualAnalysis is the structured read of one keyframe. Status no_content
// means the frame carried nothing describable (black frame, blur, title card)
// or the call failed; ErrorTag distinguishes the failure case.
type VisualAnalysis struct {
	Status       string
	Description  string
	MainEntities []string
	Actions      []string
	ErrorTag     string
}

// VisualAnalyzer turns a scene keyframe into search text. Remote failures are
// fail-soft: the scene loses its visual channel, never the whole video.
type VisualAnalyzer interface {
	Analyze(ctx context.Context, imagePath string, transcriptContext string, lang string) (VisualAnalysis, error)
}

type visualAnalyzer struct {
	log    *logger.Logger
	client Client

	maxDescriptionChars int
	maxListItems        int
	callTimeout         time.Duration
}

func NewVisualAnalyzer(log *logger.Logger, c Client) (VisualAnalyzer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if c == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &visualAnalyzer{
		log:                 log.With("service", "VisualAnalyzer"),
		client:              c,
		maxDescriptionChars: 500,
		maxListItems:        12,
		callTimeout:         90 * time.Second,
	}, nil
}

func (v *visualAnalyzer) Analyze(ctx context.Context, imagePath string, transcriptContext string, lang string) (VisualAnalysis, error) {
	imagePath = strings.TrimSpace(imagePath)
	if imagePath == "" {
		return VisualAnalysis{}, errors.New("image path required")
	}
	raw, err := os.ReadFile(imagePath)
	if err != nil || len(raw) == 0 {
		// An unreadable frame degrades like a remote failure: the caller
		// moves on to the next ranked frame instead of failing the scene.
		v.log.Warn("visual analysis failed", "image", imagePath, "error_tag", "frame_unreadable", "error", err)
		return VisualAnalysis{Status: AnalysisStatusNoContent, ErrorTag: "frame_unreadable"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, v.callTimeout)
	defer cancel()

	system := "You are a precise video frame analyst. Describe only what is visibly present; never invent details."
	user := buildAnalyzePrompt(transcriptContext, lang)

	obj, err := v.client.GenerateJSONWithImages(callCtx, system, user, []ImageInput{
		{ImageURL: frameDataURL(imagePath, raw)},
	}, "scene_visual_analysis", analyzeSchema())
	if err != nil {
		// Cancellation belongs to the caller; everything else degrades to
		// a no_content frame so the scene keeps its other channels.
		if errors.Is(err, context.Canceled) {
			return VisualAnalysis{}, err
		}
		tag := classifyAnalyzeError(err)
		v.log.Warn("visual analysis failed", "image", imagePath, "error_tag", tag, "error", err.Error())
		return VisualAnalysis{Status: AnalysisStatusNoContent, ErrorTag: tag}, nil
	}

	out := v.parseAnalysis(obj)
	return out, nil
}

func (v *visualAnalyzer) parseAnalysis(obj map[string]any) VisualAnalysis {
	out := VisualAnalysis{Status: AnalysisStatusNoContent}
	if obj == nil {
		out.ErrorTag = "malformed_json"
		return out
	}

	status, _ := obj["status"].(string)
	status = strings.ToLower(strings.TrimSpace(status))
	desc, _ := obj["description"].(string)
	desc = collapseSpaces(desc)

	if status != AnalysisStatusOK || desc == "" {
		return out
	}

	out.Status = AnalysisStatusOK
	out.Description = truncateRunes(desc, v.maxDescriptionChars)
	out.MainEntities = cleanStringList(obj["main_entities"], v.maxListItems)
	out.Actions = cleanStringList(obj["actions"], v.maxListItems)
	return out
}

func buildAnalyzePrompt(transcriptContext, lang string) string {
	var b strings.Builder
	b.WriteString("Analyze this video frame.\n")
	b.WriteString("- status: \"ok\" when the frame shows describable content, \"no_content\" for black/blurred/empty frames or bare title cards.\n")
	b.WriteString("- description: one factual paragraph (max 500 characters) of what is visible: setting, people, objects, on-screen text.\n")
	b.WriteString("- main_entities: the notable people, objects, and places, most prominent first.\n")
	b.WriteString("- actions: what is happening, as short verb phrases.\n")
	if strings.TrimSpace(transcriptContext) != "" {
		b.WriteString("\nSpeech around this moment (context only; describe the image, not the audio):\n")
		b.WriteString(strings.TrimSpace(transcriptContext))
		b.WriteString("\n")
	}
	if strings.EqualFold(strings.TrimSpace(lang), "ko") {
		b.WriteString("\nWrite description, main_entities, and actions in Korean.\n")
	}
	return b.String()
}

func analyzeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{AnalysisStatusOK, AnalysisStatusNoContent},
			},
			"description":   map[string]any{"type": "string"},
			"main_entities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"actions":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"status", "description", "main_entities", "actions"},
		"additionalProperties": false,
	}
}

func frameDataURL(path string, raw []byte) string {
	mime := "image/jpeg"
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		mime = "image/png"
	case strings.HasSuffix(lower, ".webp"):
		mime = "image/webp"
	default:
		if sniffed := http.DetectContentType(raw); strings.HasPrefix(sniffed, "image/") {
			mime = sniffed
		}
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(raw))
}

func classifyAnalyzeError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	}
	if strings.Contains(err.Error(), "failed to parse model JSON") {
		return "malformed_json"
	}
	if strings.Contains(err.Error(), "model refused") {
		return "refused"
	}
	return "error"
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}

func cleanStringList(v any, max int) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = collapseSpaces(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
