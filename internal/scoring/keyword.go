package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// ModelNameKeyword is recorded as the engine name on rankings produced
// without a model call.
const ModelNameKeyword = "keyword-matching"

var keywordPattern = regexp.MustCompile(`\b\w{4,}\b`)

// Generic words that would inflate the overlap without signalling fit.
var keywordStopwords = map[string]struct{}{
	"the": {}, "and": {}, "are": {}, "but": {}, "for": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "had": {}, "by": {}, "hot": {}, "some": {}, "very": {},
	"from": {}, "they": {}, "know": {}, "want": {}, "been": {}, "good": {},
	"their": {}, "said": {}, "each": {}, "which": {}, "she": {}, "any": {},
	"that": {}, "set": {}, "may": {}, "old": {}, "such": {}, "way": {},
	"after": {}, "take": {}, "how": {}, "then": {}, "will": {}, "were": {},
	"see": {}, "more": {}, "two": {}, "use": {}, "has": {}, "too": {},
	"your": {}, "him": {}, "its": {}, "his": {}, "who": {}, "did": {},
	"get": {}, "just": {}, "let": {}, "with": {}, "into": {}, "than": {},
	"out": {}, "when": {}, "look": {}, "most": {}, "this": {}, "would": {},
	"have": {}, "there": {}, "what": {}, "only": {}, "come": {}, "many": {},
	"could": {}, "here": {}, "over": {}, "think": {}, "them": {}, "about": {},
	"like": {}, "well": {}, "should": {}, "an": {}, "work": {}, "year": {},
	"where": {}, "must": {}, "first": {}, "years": {},
}

// KeywordScorer computes a deterministic overlap score with no model call.
// Scoring a resume that contains every job keyword yields exactly 1.0.
type KeywordScorer struct{}

// NewKeywordScorer returns the deterministic strategy.
func NewKeywordScorer() *KeywordScorer { return &KeywordScorer{} }

// Method implements domain.Scorer.
func (s *KeywordScorer) Method() string { return domain.MethodKeyword }

// Score implements domain.Scorer. The score is the fraction of job keywords
// present in the resume; an empty keyword set scores 0.0.
func (s *KeywordScorer) Score(ctx domain.Context, jobText, resumeText string) (domain.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoreResult{}, err
	}

	jobKeywords := extractKeywords(jobText)
	resumeWords := extractKeywords(resumeText)

	matched := make([]string, 0, len(jobKeywords))
	for w := range jobKeywords {
		if _, ok := resumeWords[w]; ok {
			matched = append(matched, w)
		}
	}
	sort.Strings(matched)

	score := 0.0
	if len(jobKeywords) > 0 {
		score = clamp01(float64(len(matched)) / float64(len(jobKeywords)))
	}

	citations := matched
	if len(citations) > 5 {
		citations = citations[:5]
	}
	if len(citations) == 0 {
		citations = nil
	}

	return domain.ScoreResult{
		Score: score,
		Explanation: fmt.Sprintf(
			"Keyword matching analysis found %d out of %d job keywords present in the resume.",
			len(matched), len(jobKeywords)),
		Citations: citations,
	}, nil
}

func extractKeywords(text string) map[string]struct{} {
	words := keywordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := keywordStopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
