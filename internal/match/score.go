package match

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Rule names the scoring layer that produced a result.
type Rule string

// Scoring rules, in evaluation order.
const (
	RuleExact        Rule = "exact"
	RuleNormalized   Rule = "normalized"
	RuleWordBoundary Rule = "word_boundary"
	RuleWordSet      Rule = "word_set"
	RuleWordSubset   Rule = "word_subset"
	RuleFuzzy        Rule = "fuzzy"
	RuleNone         Rule = "none"
)

// Layer scores.
const (
	ScoreExact        = 1.00
	ScoreNormalized   = 0.95
	ScoreWordBoundary = 0.85
	ScoreShortWordSet = 0.80
	ScoreAllWords     = 0.75
	ScoreMostWords    = 0.65

	fuzzyDamping       = 0.6
	fuzzyMinSimilarity = 0.90
	minBoundaryRatio   = 0.7
	mostWordsFraction  = 0.8
)

// Result is the outcome of comparing a canonical name with a mention.
type Result struct {
	Score float64 `json:"score"`
	Rule  Rule    `json:"rule"`
}

// Score compares a canonical artist name with free-text mention and returns a
// confidence in [0,1]. Zero means no match.
func Score(canonical, mention string) float64 {
	return Evaluate(canonical, mention).Score
}

// Evaluate runs the layered comparison and reports which rule decided it.
// The first qualifying rule wins.
func Evaluate(canonical, mention string) Result {
	c := strings.TrimSpace(canonical)
	m := strings.TrimSpace(mention)
	if c == "" || m == "" {
		return Result{Rule: RuleNone}
	}

	if strings.EqualFold(c, m) {
		return Result{Score: ScoreExact, Rule: RuleExact}
	}

	nc, nm := Normalize(c), Normalize(m)
	if nc == "" || nm == "" {
		return Result{Rule: RuleNone}
	}
	if nc == nm {
		return Result{Score: ScoreNormalized, Rule: RuleNormalized}
	}

	if containsWord(nm, nc) || containsWord(nc, nm) {
		lc, lm := utf8.RuneCountInString(nc), utf8.RuneCountInString(nm)
		shorter, longer := min(lc, lm), max(lc, lm)
		if float64(shorter)/float64(longer) > minBoundaryRatio {
			return Result{Score: ScoreWordBoundary, Rule: RuleWordBoundary}
		}
	}

	cw := significantWords(nc)
	n := len(cw)
	mw := significantWords(nm)
	// Short names get no partial credit. A name with no significant words
	// only matches through the exact and normalized rules above.
	if n <= 2 {
		if n > 0 && sameSet(cw, mw) {
			return Result{Score: ScoreShortWordSet, Rule: RuleWordSet}
		}
		return Result{Rule: RuleNone}
	}

	present := 0
	for w := range cw {
		if _, ok := mw[w]; ok {
			present++
		}
	}
	switch {
	case present == n:
		return Result{Score: ScoreAllWords, Rule: RuleWordSet}
	case float64(present)/float64(n) >= mostWordsFraction:
		return Result{Score: ScoreMostWords, Rule: RuleWordSubset}
	}

	if utf8.RuneCountInString(nc) > 3 {
		dist := levenshtein.ComputeDistance(nc, nm)
		maxLen := max(utf8.RuneCountInString(nc), utf8.RuneCountInString(nm))
		sim := 1 - float64(dist)/float64(maxLen)
		if sim > fuzzyMinSimilarity {
			return Result{Score: fuzzyDamping * sim, Rule: RuleFuzzy}
		}
	}

	return Result{Rule: RuleNone}
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for w := range a {
		if _, ok := b[w]; !ok {
			return false
		}
	}
	return true
}
