// Package redact removes contact details and bias indicators from candidate
// text before it reaches any scoring strategy. Replacement placeholders never
// contain redactable text, so a second pass over redacted output is a no-op.
package redact

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

const biasPlaceholder = "[REDACTED_BIAS]"

type piiPattern struct {
	category    string
	placeholder string
	re          *regexp.Regexp
}

// Category passes run in a fixed order so composite values are consumed by
// the most specific pattern first (a URL before the date inside its path).
var piiPatterns = []piiPattern{
	{"EMAIL", "[REDACTED_EMAIL]", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"PHONE", "[REDACTED_PHONE]", regexp.MustCompile(`(?i)\+\d{1,3}[ .-]?\(?\d{2,4}\)?[ .-]?\d{3,4}[ .-]?\d{3,4}|\(\d{3}\)[ .-]?\d{3}[ .-]?\d{4}|\b\d{3}[ .-]\d{3}[ .-]?\d{4}\b|\b\d{10}\b`)},
	{"ADDRESS", "[REDACTED_ADDRESS]", regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z0-9,\s]+(?:\s+St|\s+Ave|\s+Rd|\s+Dr|\s+Ln|\s+Ct|\s+Pl|\s+Blvd|\s+Way|\s+Ter|\s+Plaza)+(?:\s+\w{2}\s+\d{5})?\b`)},
	{"URL", "[REDACTED_URL]", regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'()\[\]]+`)},
	{"SSN", "[REDACTED_SSN]", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"DATE", "[REDACTED_DATE]", regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`)},
}

// DefaultBiasTerms returns the built-in indicator list. Deployments can
// override it via the redaction patterns file.
func DefaultBiasTerms() []string {
	return []string{
		"male", "female", "man", "woman", "boy", "girl",
		"age", "aged", "years old", "born in", "graduate", "graduation",
		"race", "ethnicity", "religion", "sexual orientation",
		"marital status", "parent", "dependents",
	}
}

type biasTerm struct {
	term string
	re   *regexp.Regexp
}

// Redactor applies pattern redaction, optional entity redaction and bias
// term removal, in that order. Safe for concurrent use.
type Redactor struct {
	bias     []biasTerm
	detector domain.EntityDetector
}

// New builds a Redactor. An empty biasTerms falls back to DefaultBiasTerms.
// detector may be nil; redaction then stays pattern-only and the audit
// reports zero entity replacements.
func New(biasTerms []string, detector domain.EntityDetector) *Redactor {
	if len(biasTerms) == 0 {
		biasTerms = DefaultBiasTerms()
	}
	bias := make([]biasTerm, 0, len(biasTerms))
	for _, t := range biasTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		bias = append(bias, biasTerm{term: t, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)})
	}
	return &Redactor{bias: bias, detector: detector}
}

// Redact returns the redacted text and an audit of what was removed. The
// audit keeps literal spans for compliance logging; callers must not hand
// them to any model. Entity detection failures degrade to pattern-only
// redaction rather than failing the upload.
func (r *Redactor) Redact(ctx domain.Context, text string) (string, domain.RedactionAudit) {
	var audit domain.RedactionAudit

	for _, p := range piiPatterns {
		text = p.re.ReplaceAllStringFunc(text, func(m string) string {
			audit.PIISpans = append(audit.PIISpans, domain.RedactedSpan{Category: p.category, Text: m})
			return p.placeholder
		})
	}
	audit.PIIRedacted = len(audit.PIISpans)

	if r.detector != nil {
		spans, err := r.detector.DetectEntities(ctx, text)
		if err != nil {
			slog.Warn("entity detection failed, keeping pattern-only redaction", slog.Any("error", err))
		}
		for _, sp := range spans {
			needle := strings.TrimSpace(sp.Text)
			if needle == "" {
				continue
			}
			n := strings.Count(text, needle)
			if n == 0 {
				continue
			}
			label := strings.ToUpper(strings.TrimSpace(sp.Label))
			if label == "" {
				label = "ENTITY"
			}
			text = strings.ReplaceAll(text, needle, "[REDACTED_"+label+"]")
			audit.EntityRedacted += n
			audit.PIISpans = append(audit.PIISpans, domain.RedactedSpan{Category: label, Text: needle})
		}
	}

	// Bias terms are audited once per term, not per occurrence.
	for _, t := range r.bias {
		if !t.re.MatchString(text) {
			continue
		}
		text = t.re.ReplaceAllLiteralString(text, biasPlaceholder)
		audit.BiasSpans = append(audit.BiasSpans, t.term)
	}
	audit.BiasRedacted = len(audit.BiasSpans)

	return text, audit
}
