package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	personrepo "github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

const personPrefixMarker = "person:"

// Planner turns raw query text plus request overrides into a QueryPlan:
// person prefix resolved against the tenant's people, language and intent
// classified, visual mode finalized.
type Planner interface {
	Plan(ctx context.Context, tenantID uuid.UUID, req Request, savedVisualMode string) (*QueryPlan, error)
}

type planner struct {
	log     *logger.Logger
	cfg     Config
	persons personrepo.PersonRepo
}

func NewPlanner(log *logger.Logger, cfg Config, persons personrepo.PersonRepo) Planner {
	return &planner{
		log:     log.With("service", "QueryPlanner"),
		cfg:     cfg.withDefaults(),
		persons: persons,
	}
}

func (p *planner) Plan(ctx context.Context, tenantID uuid.UUID, req Request, savedVisualMode string) (*QueryPlan, error) {
	query := strings.TrimSpace(req.Query)
	plan := &QueryPlan{
		Query:         query,
		OriginalQuery: query,
		VideoID:       req.VideoID,
		Limit:         req.Limit,
	}
	if req.Threshold != nil {
		plan.Threshold = *req.Threshold
	}

	if p.persons != nil {
		people, err := p.persons.ListReady(ctx, nil, tenantID)
		if err != nil {
			// Person matching is an enhancement; a repo error must not
			// kill the whole search.
			p.log.Warn("person list failed, skipping prefix match", "tenant_id", tenantID, "error", err)
		} else if person, rest, ok := matchPersonPrefix(query, people); ok {
			id := person.ID
			plan.PersonID = &id
			plan.PersonName = person.DisplayName
			plan.Query = rest
		}
	}

	plan.Language = detectLanguage(plan.Query)
	if plan.Query == "" && plan.PersonName != "" {
		plan.Language = detectLanguage(plan.PersonName)
	}
	plan.Intent = classifyIntent(plan.Query)

	p.resolveVisualMode(plan, req.VisualMode, savedVisualMode)

	p.log.Debug("query planned",
		"language", plan.Language,
		"intent", plan.Intent,
		"visual_mode", plan.VisualMode,
		"visual_mode_source", plan.VisualModeSource,
		"person_matched", plan.PersonID != nil)
	return plan, nil
}

func (p *planner) resolveVisualMode(plan *QueryPlan, requested, saved string) {
	mode := p.cfg.VisualMode
	source := "default"
	if saved != "" {
		mode, source = saved, "saved"
	}
	if requested != "" {
		mode, source = requested, "request"
	}
	if mode != VisualModeAuto {
		plan.VisualMode = mode
		plan.VisualModeSource = source
		return
	}

	intent := routeVisualIntent(plan.Query, p.cfg.RouterBoostWeight, p.cfg.RouterReduceWeight)
	plan.VisualMode = intent.SuggestedMode
	plan.VisualModeSource = "auto"
	plan.WeightAdjustment = intent.WeightAdjustment
	plan.RouterConfidence = intent.Confidence
}

// matchPersonPrefix tries the two prefix patterns over the tenant's people,
// longest display name first so "Kim Minji" wins over "Kim". Pattern one is
// an explicit "person:<name>[, rest]"; pattern two is "<name> <rest>" with
// the name ending on a word boundary.
func matchPersonPrefix(query string, people []*types.Person) (*types.Person, string, bool) {
	if query == "" || len(people) == 0 {
		return nil, "", false
	}
	sorted := make([]*types.Person, len(people))
	copy(sorted, people)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].DisplayName) > len(sorted[j].DisplayName)
	})

	explicit := ""
	if len(query) >= len(personPrefixMarker) && strings.EqualFold(query[:len(personPrefixMarker)], personPrefixMarker) {
		explicit = strings.TrimSpace(query[len(personPrefixMarker):])
	}

	for _, person := range sorted {
		name := strings.TrimSpace(person.DisplayName)
		if name == "" {
			continue
		}
		if explicit != "" {
			if rest, ok := cutNamePrefix(explicit, name); ok {
				return person, rest, true
			}
		}
		if rest, ok := cutNamePrefix(query, name); ok {
			return person, rest, true
		}
	}
	return nil, "", false
}

// cutNamePrefix reports whether s starts with name (case-insensitive) ending
// on a word boundary, and returns the trimmed remainder.
func cutNamePrefix(s, name string) (string, bool) {
	if len(s) < len(name) || !strings.EqualFold(s[:len(name)], name) {
		return "", false
	}
	rest := s[len(name):]
	if rest == "" {
		return "", true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if r != ' ' && r != ',' {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " ,")), true
}

func detectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) || unicode.Is(unicode.Han, r) {
			return "ko"
		}
	}
	return "en"
}

// classifyIntent labels short name-like queries as lookups so gating can
// trust exact lexical hits over semantic neighbors.
func classifyIntent(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return IntentSemantic
	}
	tokens := strings.Fields(query)

	if len(tokens) >= 1 && len(tokens) <= 2 {
		short := true
		for _, tok := range tokens {
			if utf8.RuneCountInString(tok) > 6 {
				short = false
				break
			}
		}
		if short {
			return IntentLookup
		}
		for _, tok := range tokens {
			if strings.IndexFunc(tok, unicode.IsUpper) >= 0 {
				return IntentLookup
			}
		}
	}

	if len(tokens) == 1 && isHangulName(tokens[0]) {
		return IntentLookup
	}
	return IntentSemantic
}

// isHangulName reports a 2-4 syllable run of Hangul with nothing else.
func isHangulName(token string) bool {
	count := 0
	for _, r := range token {
		if !unicode.Is(unicode.Hangul, r) {
			return false
		}
		count++
	}
	return count >= 2 && count <= 4
}

// Visual/speech signal lexicons for the auto router. Matching is on lowered
// text with word boundaries for the English terms.
var visualTerms = []string{
	"wearing", "dressed", "color", "colour", "red", "blue", "green", "yellow",
	"black", "white", "background", "foreground", "scene", "shot", "frame",
	"standing", "sitting", "holding", "walking", "running", "jumping",
	"looks like", "appears", "visible", "shown", "shows", "outdoor", "indoor",
	"bright", "dark", "close-up", "wide shot",
	"입은", "색", "빨간", "파란", "노란", "검은", "하얀", "배경", "장면",
	"서있", "앉아", "들고", "걷는", "뛰는", "보이는", "야외", "실내",
}

var speechTerms = []string{
	"says", "said", "saying", "mentions", "mentioned", "talks about",
	"talking about", "discusses", "explains", "asks", "answered", "quote",
	"말하", "말한", "언급", "이야기", "설명", "물어", "대답", "라고",
}

var quotedRe = regexp.MustCompile(`"[^"]+"|'[^']+'|“[^”]+”`)

// routeVisualIntent scores the query's visual vs speech signals and suggests
// a visual mode plus a bounded weight adjustment for the fusion weights.
func routeVisualIntent(query string, boost, reduce float64) VisualIntent {
	lower := strings.ToLower(query)

	visual := countTermHits(lower, visualTerms)
	speech := countTermHits(lower, speechTerms)
	speech += len(quotedRe.FindAllString(query, -1))

	net := visual - speech
	confidence := float64(abs(net)) / 3.0
	if confidence > 1 {
		confidence = 1
	}

	switch {
	case net >= 2:
		return VisualIntent{SuggestedMode: VisualModeRerank, WeightAdjustment: boost, Confidence: confidence}
	case net == 1:
		return VisualIntent{SuggestedMode: VisualModeRecall, WeightAdjustment: boost / 2, Confidence: confidence}
	case net == -1:
		return VisualIntent{SuggestedMode: VisualModeRecall, WeightAdjustment: -reduce / 2, Confidence: confidence}
	case net <= -2:
		return VisualIntent{SuggestedMode: VisualModeSkip, WeightAdjustment: -reduce, Confidence: confidence}
	default:
		return VisualIntent{SuggestedMode: VisualModeRecall}
	}
}

func countTermHits(lower string, terms []string) int {
	hits := 0
	for _, term := range terms {
		if containsTerm(lower, term) {
			hits++
		}
	}
	return hits
}

// containsTerm does a word-boundary match for ASCII terms and a plain
// substring match otherwise (Korean has no space-delimited word boundaries
// after particles).
func containsTerm(lower, term string) bool {
	if term == "" {
		return false
	}
	if !isASCII(term) {
		return strings.Contains(lower, term)
	}
	idx := 0
	for {
		i := strings.Index(lower[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordRune(rune(lower[start-1]))
		afterOK := end == len(lower) || !isWordRune(rune(lower[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// String implements fmt.Stringer for log lines.
func (v VisualIntent) String() string {
	return fmt.Sprintf("%s(adj=%+.2f,conf=%.2f)", v.SuggestedMode, v.WeightAdjustment, v.Confidence)
}
