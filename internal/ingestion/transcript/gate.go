package transcript

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

// Rejection reason tags recorded on the video/scene rows.
const (
	ReasonEmpty              = "empty"
	ReasonTooShort           = "too_short"
	ReasonHighNoSpeechProb   = "high_no_speech_prob"
	ReasonFewSpeechSegments  = "few_speech_segments"
	ReasonMusicDominated     = "music_dominated"
	ReasonBannedPhrase       = "banned_phrase"
)

type GateConfig struct {
	MinCharsForSpeech      int      `yaml:"min_chars_for_speech"`
	MinSpeechCharRatio     float64  `yaml:"min_speech_char_ratio"`
	MaxNoSpeechProb        float64  `yaml:"max_no_speech_prob"`
	MinSpeechSegmentsRatio float64  `yaml:"min_speech_segments_ratio"`
	MusicMarkers           []string `yaml:"music_markers"`
	BannedPhrases          []string `yaml:"banned_phrases"`
}

func (c GateConfig) withDefaults() GateConfig {
	if c.MinCharsForSpeech <= 0 {
		c.MinCharsForSpeech = 20
	}
	if c.MinSpeechCharRatio <= 0 {
		c.MinSpeechCharRatio = 0.5
	}
	if c.MaxNoSpeechProb <= 0 {
		c.MaxNoSpeechProb = 0.6
	}
	if c.MinSpeechSegmentsRatio <= 0 {
		c.MinSpeechSegmentsRatio = 0.5
	}
	if c.MusicMarkers == nil {
		c.MusicMarkers = []string{"♪", "♫", "[music]", "(music)", "[applause]", "[laughter]"}
	}
	if c.BannedPhrases == nil {
		// Stock whisper hallucinations on silent or music-only audio.
		c.BannedPhrases = []string{
			"thank you for watching",
			"thanks for watching",
			"please subscribe",
			"subtitles by",
		}
	}
	return c
}

// GateResult says whether a transcription counts as real speech. Reason is
// set only on rejection.
type GateResult struct {
	HasSpeech bool
	Reason    string
}

// EvaluateTranscript accepts a transcription iff it is long enough (or
// speech-dense enough), its segments are confident speech, and it is not
// dominated by music markers or known hallucinated phrases. Rejected
// transcripts must be discarded by the caller.
func EvaluateTranscript(tr whisper.Transcription, cfg GateConfig) GateResult {
	cfg = cfg.withDefaults()

	text := strings.TrimSpace(tr.Text)
	if text == "" && len(tr.Segments) == 0 {
		return GateResult{HasSpeech: false, Reason: ReasonEmpty}
	}
	if text == "" {
		parts := make([]string, 0, len(tr.Segments))
		for _, s := range tr.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
		if text == "" {
			return GateResult{HasSpeech: false, Reason: ReasonEmpty}
		}
	}

	speech, total := speechCharCounts(text)
	longEnough := utf8.RuneCountInString(text) >= cfg.MinCharsForSpeech
	denseEnough := total > 0 && float64(speech)/float64(total) >= cfg.MinSpeechCharRatio
	if !longEnough && !denseEnough {
		return GateResult{HasSpeech: false, Reason: ReasonTooShort}
	}

	if len(tr.Segments) > 0 {
		if medianNoSpeechProb(tr.Segments) >= cfg.MaxNoSpeechProb {
			return GateResult{HasSpeech: false, Reason: ReasonHighNoSpeechProb}
		}
		speechSegs := 0
		for _, s := range tr.Segments {
			if s.NoSpeechProb < cfg.MaxNoSpeechProb {
				speechSegs++
			}
		}
		if float64(speechSegs)/float64(len(tr.Segments)) < cfg.MinSpeechSegmentsRatio {
			return GateResult{HasSpeech: false, Reason: ReasonFewSpeechSegments}
		}
	}

	lower := strings.ToLower(text)
	if dominatedBy(lower, total, cfg.MusicMarkers) {
		return GateResult{HasSpeech: false, Reason: ReasonMusicDominated}
	}
	if dominatedBy(lower, total, cfg.BannedPhrases) {
		return GateResult{HasSpeech: false, Reason: ReasonBannedPhrase}
	}

	return GateResult{HasSpeech: true}
}

// speechCharCounts counts letters and digits (Hangul and CJK are letters)
// against all non-space runes.
func speechCharCounts(text string) (speech, total int) {
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			speech++
		}
	}
	return speech, total
}

func medianNoSpeechProb(segments []whisper.Segment) float64 {
	probs := make([]float64, len(segments))
	for i, s := range segments {
		probs[i] = s.NoSpeechProb
	}
	sort.Float64s(probs)
	mid := len(probs) / 2
	if len(probs)%2 == 1 {
		return probs[mid]
	}
	return (probs[mid-1] + probs[mid]) / 2
}

// dominatedBy reports whether the given markers cover at least half of the
// text's non-space characters.
func dominatedBy(lowerText string, totalChars int, markers []string) bool {
	if totalChars == 0 {
		return false
	}
	matched := 0
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		count := strings.Count(lowerText, m)
		if count == 0 {
			continue
		}
		_, markerChars := speechCharCounts(m)
		matched += count * markerChars
	}
	return matched*2 >= totalChars
}
