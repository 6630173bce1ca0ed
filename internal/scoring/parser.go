// Package scoring implements the two ranking strategies and the parser that
// turns model free text into a score, explanation and citations.
package scoring

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// ParseKind tags which response shape a ranking reply matched.
type ParseKind int

const (
	// ParseStructured means the reply carried a valid JSON object with the
	// required keys.
	ParseStructured ParseKind = iota
	// ParseMarker means the reply was loose text with at least a score
	// marker to anchor extraction.
	ParseMarker
	// ParseUnparseable means neither shape matched; the result is a zero
	// score with a fixed explanation.
	ParseUnparseable
)

// maxCitations bounds citation lists regardless of reply shape.
const maxCitations = 5

func (k ParseKind) String() string {
	switch k {
	case ParseStructured:
		return "structured"
	case ParseMarker:
		return "marker"
	default:
		return "unparseable"
	}
}

// ParseOutcome is the tagged result of parsing one ranking reply.
type ParseOutcome struct {
	Kind   ParseKind
	Result domain.ScoreResult
}

const unparseableExplanation = "Analysis could not be parsed from the model response."

// ParseRanking tries the structured shape first, then marker extraction,
// and never fails: an unrecognizable reply degrades to a zero score.
func ParseRanking(raw string) ParseOutcome {
	if res, ok := parseStructured(raw); ok {
		return ParseOutcome{Kind: ParseStructured, Result: res}
	}
	if res, ok := parseMarker(raw); ok {
		return ParseOutcome{Kind: ParseMarker, Result: res}
	}
	return ParseOutcome{
		Kind:   ParseUnparseable,
		Result: domain.ScoreResult{Score: 0, Explanation: unparseableExplanation},
	}
}

type rankingJSON struct {
	Score       *float64 `json:"score"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`
}

func parseStructured(raw string) (domain.ScoreResult, bool) {
	js, ok := extractFirstJSONObject(raw)
	if !ok {
		return domain.ScoreResult{}, false
	}
	var out rankingJSON
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		js = fixCommonJSONIssues(js)
		if err := json.Unmarshal([]byte(js), &out); err != nil {
			return domain.ScoreResult{}, false
		}
	}
	if out.Score == nil || strings.TrimSpace(out.Explanation) == "" {
		return domain.ScoreResult{}, false
	}
	return domain.ScoreResult{
		Score:       clamp01(*out.Score),
		Explanation: strings.TrimSpace(out.Explanation),
		Citations:   compactStrings(out.Citations, maxCitations),
	}, true
}

var (
	scoreMarker       = regexp.MustCompile(`(?i)score[:\s]*([-+]?\d*\.?\d+)`)
	explanationMarker = regexp.MustCompile(`(?is)explanation[:\s]*(.+)`)
	citationsMarker   = regexp.MustCompile(`(?is)citations?[:\s]*(.+)`)
	citationDelims    = regexp.MustCompile(`[;,\n]`)
)

// parseMarker anchors on the score marker; a reply without one is treated as
// unparseable rather than silently scored.
func parseMarker(raw string) (domain.ScoreResult, bool) {
	sm := scoreMarker.FindStringSubmatch(raw)
	if sm == nil {
		return domain.ScoreResult{}, false
	}
	score := 0.0
	if f, err := strconv.ParseFloat(sm[1], 64); err == nil {
		score = clamp01(f)
	}

	explanation := "Analysis completed"
	if em := explanationMarker.FindStringSubmatch(raw); em != nil {
		explanation = strings.TrimSpace(em[1])
	} else if line := firstProseLine(raw); line != "" {
		explanation = line
	}
	if explanation == "" {
		explanation = "Analysis completed successfully"
	}

	var citations []string
	if cm := citationsMarker.FindStringSubmatch(raw); cm != nil {
		citations = compactStrings(citationDelims.Split(strings.TrimSpace(cm[1]), -1), maxCitations)
	}

	return domain.ScoreResult{Score: score, Explanation: explanation, Citations: citations}, true
}

// firstProseLine returns the first non-empty line unless its head looks
// numeric, truncated to 200 runes.
func firstProseLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.ContainsAny(head, "0123456789") {
			return ""
		}
		if r := []rune(line); len(r) > 200 {
			line = string(r[:200])
		}
		return line
	}
	return ""
}

// extractFirstJSONObject returns the first brace-balanced object in s.
// Matching is byte-level and does not track string literals; unbalanced
// braces inside strings push the reply down to marker parsing.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	bareKey       = regexp.MustCompile(`([{,]\s*)(\w+)\s*:`)
)

// fixCommonJSONIssues repairs the failure modes small local models produce
// most often: trailing commas and unquoted keys. Only applied after a strict
// unmarshal has already failed.
func fixCommonJSONIssues(js string) string {
	js = trailingComma.ReplaceAllString(js, "$1")
	js = bareKey.ReplaceAllString(js, `$1"$2":`)
	return js
}

func compactStrings(in []string, limit int) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
