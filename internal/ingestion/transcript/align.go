package transcript

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

// Align picks the transcript text for one scene: the concatenated text of
// every segment whose timestamps overlap the scene window, whitespace
// normalized. A result shorter than minChars retries once with the window
// padded by padS on both sides (clamped to the video). Timestamp overlap is
// the only slicing rule; segment text is never split.
func Align(segments []whisper.Segment, sceneStartS, sceneEndS float64, minChars int, padS, videoDurationS float64) string {
	if len(segments) == 0 || sceneEndS <= sceneStartS {
		return ""
	}

	sorted := make([]whisper.Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := collectOverlapping(sorted, sceneStartS, sceneEndS)
	if utf8.RuneCountInString(out) >= minChars || padS <= 0 {
		return out
	}

	paddedStart := sceneStartS - padS
	if paddedStart < 0 {
		paddedStart = 0
	}
	paddedEnd := sceneEndS + padS
	if videoDurationS > 0 && paddedEnd > videoDurationS {
		paddedEnd = videoDurationS
	}
	return collectOverlapping(sorted, paddedStart, paddedEnd)
}

func collectOverlapping(sorted []whisper.Segment, startS, endS float64) string {
	parts := make([]string, 0, 8)
	for _, seg := range sorted {
		if seg.End <= startS {
			continue
		}
		if seg.Start >= endS {
			break
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
