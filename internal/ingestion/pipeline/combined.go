package pipeline

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxTagRunes = 30

type textLabels struct {
	audio  string
	visual string
	file   string
}

var labelsByLanguage = map[string]textLabels{
	"en": {audio: "Audio:", visual: "Visual:", file: "File:"},
	"ko": {audio: "오디오:", visual: "시각:", file: "파일명:"},
}

func labelsFor(lang string) textLabels {
	key := strings.ToLower(strings.TrimSpace(lang))
	if key == "kr" || key == "korean" {
		key = "ko"
	}
	if l, ok := labelsByLanguage[key]; ok {
		return l
	}
	return labelsByLanguage["en"]
}

// combinedText is the lexical fallback document for a scene: spoken words
// first, visual description second, filename last. Labels follow the video
// language so the lexical analyzer sees consistent tokens.
func combinedText(lang, transcript, visualDescription, filename string) string {
	labels := labelsFor(lang)
	var parts []string
	if t := strings.TrimSpace(transcript); t != "" {
		parts = append(parts, labels.audio+" "+t)
	}
	if v := strings.TrimSpace(visualDescription); v != "" {
		parts = append(parts, labels.visual+" "+v)
	}
	if f := humanizeFilename(filename); f != "" {
		parts = append(parts, labels.file+" "+f)
	}
	return strings.Join(parts, "\n")
}

// humanizeFilename strips the extension and breaks separators into spaces
// so filename words become searchable tokens.
func humanizeFilename(filename string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		return ""
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// normalizeTags lower-cases, trims, dedupes, and drops anything longer
// than a tag should be; over-long entries are phrases, not tags.
func normalizeTags(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || utf8.RuneCountInString(t) > maxTagRunes {
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// visualSummary compacts entities and actions into one short phrase for
// the summary channel and the scene row.
func visualSummary(entities, actions []string) string {
	ents := joinClean(entities)
	acts := joinClean(actions)
	switch {
	case ents != "" && acts != "":
		return ents + "; " + acts
	case ents != "":
		return ents
	default:
		return acts
	}
}

func joinClean(items []string) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}
