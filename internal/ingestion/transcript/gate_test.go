package transcript

import (
	"testing"

	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

func speechSeg(text string, noSpeechProb float64) whisper.Segment {
	return whisper.Segment{Text: text, NoSpeechProb: noSpeechProb}
}

func TestEvaluateTranscript(t *testing.T) {
	cfg := GateConfig{
		MinCharsForSpeech:      20,
		MinSpeechCharRatio:     0.5,
		MaxNoSpeechProb:        0.6,
		MinSpeechSegmentsRatio: 0.75,
		MusicMarkers:           []string{"♪", "[music]"},
		BannedPhrases:          []string{"thank you for watching"},
	}

	cases := []struct {
		name       string
		tr         whisper.Transcription
		wantSpeech bool
		wantReason string
	}{
		{
			name:       "empty transcription",
			tr:         whisper.Transcription{},
			wantSpeech: false,
			wantReason: ReasonEmpty,
		},
		{
			name: "normal speech accepted",
			tr: whisper.Transcription{
				Text: "We walked down to the harbor and watched the boats come in.",
				Segments: []whisper.Segment{
					speechSeg("We walked down to the harbor", 0.1),
					speechSeg("and watched the boats come in.", 0.2),
				},
			},
			wantSpeech: true,
		},
		{
			name: "short but speech dense accepted",
			tr: whisper.Transcription{
				Text:     "주방에서 요리해요",
				Segments: []whisper.Segment{speechSeg("주방에서 요리해요", 0.1)},
			},
			wantSpeech: true,
		},
		{
			name: "short and sparse rejected",
			tr: whisper.Transcription{
				Text:     "... !!! ...",
				Segments: []whisper.Segment{speechSeg("... !!! ...", 0.1)},
			},
			wantSpeech: false,
			wantReason: ReasonTooShort,
		},
		{
			name: "high median no speech prob rejected",
			tr: whisper.Transcription{
				Text: "this text is long enough to pass the length check easily",
				Segments: []whisper.Segment{
					speechSeg("this text is long", 0.9),
					speechSeg("enough to pass", 0.8),
					speechSeg("the length check", 0.1),
				},
			},
			wantSpeech: false,
			wantReason: ReasonHighNoSpeechProb,
		},
		{
			// Median stays low but only half the segments clear the
			// per-segment bar, under the configured 0.75 ratio.
			name: "too few speech segments rejected",
			tr: whisper.Transcription{
				Text: "this text is long enough to pass the length check easily",
				Segments: []whisper.Segment{
					speechSeg("this text is long", 0.1),
					speechSeg("enough to pass", 0.1),
					speechSeg("the length check", 0.7),
					speechSeg("easily", 0.7),
				},
			},
			wantSpeech: false,
			wantReason: ReasonFewSpeechSegments,
		},
		{
			name: "music markers dominate rejected",
			tr: whisper.Transcription{
				Text: "[music] [music] [music] [music] la la",
				Segments: []whisper.Segment{
					speechSeg("[music] [music] [music] [music] la la", 0.2),
				},
			},
			wantSpeech: false,
			wantReason: ReasonMusicDominated,
		},
		{
			name: "hallucinated phrase rejected",
			tr: whisper.Transcription{
				Text: "Thank you for watching.",
				Segments: []whisper.Segment{
					speechSeg("Thank you for watching.", 0.3),
				},
			},
			wantSpeech: false,
			wantReason: ReasonBannedPhrase,
		},
		{
			name: "music mention in real speech accepted",
			tr: whisper.Transcription{
				Text: "The band played [music] while everyone kept talking about the game.",
				Segments: []whisper.Segment{
					speechSeg("The band played [music] while everyone kept talking about the game.", 0.1),
				},
			},
			wantSpeech: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateTranscript(tc.tr, cfg)
			if got.HasSpeech != tc.wantSpeech {
				t.Fatalf("EvaluateTranscript.HasSpeech=%v, want %v (reason=%q)", got.HasSpeech, tc.wantSpeech, got.Reason)
			}
			if !tc.wantSpeech && got.Reason != tc.wantReason {
				t.Fatalf("EvaluateTranscript.Reason=%q, want %q", got.Reason, tc.wantReason)
			}
			if tc.wantSpeech && got.Reason != "" {
				t.Fatalf("accepted transcript carries reason %q", got.Reason)
			}
		})
	}
}

func TestEvaluateTranscriptJoinsSegmentsWhenTextMissing(t *testing.T) {
	tr := whisper.Transcription{
		Segments: []whisper.Segment{
			speechSeg("the service omitted", 0.1),
			speechSeg("the top level text field", 0.1),
		},
	}
	got := EvaluateTranscript(tr, GateConfig{})
	if !got.HasSpeech {
		t.Fatalf("EvaluateTranscript=%+v, want accepted", got)
	}
}

func TestMedianNoSpeechProb(t *testing.T) {
	odd := []whisper.Segment{speechSeg("", 0.9), speechSeg("", 0.1), speechSeg("", 0.5)}
	if got := medianNoSpeechProb(odd); got != 0.5 {
		t.Errorf("median(odd)=%f, want 0.5", got)
	}
	even := []whisper.Segment{speechSeg("", 0.2), speechSeg("", 0.4)}
	if got := medianNoSpeechProb(even); got != 0.3 {
		t.Errorf("median(even)=%f, want 0.3", got)
	}
}
