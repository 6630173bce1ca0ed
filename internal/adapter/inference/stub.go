package inference

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
)

// Stub is a fast, deterministic inference client for local and test runs.
// Rank prompts are scored by keyword overlap between the embedded job and
// resume segments, so better-matching resumes reliably score higher.
type Stub struct {
	model   string
	keyword *scoring.KeywordScorer
}

// NewStub returns a stub that reports model as the single served model.
func NewStub(model string) *Stub {
	if model == "" {
		model = "stub"
	}
	return &Stub{model: model, keyword: scoring.NewKeywordScorer()}
}

var candidateLabel = regexp.MustCompile(`(?m)^(Candidate\d{3}):`)

// Generate recognizes the application's prompt shapes and answers each with
// deterministic text of the shape a real model is asked for.
func (s *Stub) Generate(ctx domain.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(prompt, "Summarize this job description"):
		return "1. Responsibilities:\n- Deliver the core duties named in the posting\n" +
			"2. Required Skills:\n- The technical and interpersonal skills the posting names\n" +
			"3. Desired Experience:\n- The years and background the posting names", nil

	case strings.HasPrefix(prompt, "GDPR anonymize resume ID "):
		return segment(prompt, "Resume:\n", ""), nil

	case strings.Contains(prompt, "IMPORTANT: Respond ONLY with valid JSON"):
		job := segment(prompt, "Job Description:\n", "\n\nCandidate Resume:\n")
		resume := segment(prompt, "\n\nCandidate Resume:\n", "\n\nIMPORTANT:")
		res, err := s.keyword.Score(ctx, job, resume)
		if err != nil {
			return "", err
		}
		payload := map[string]any{
			"score":       res.Score,
			"explanation": res.Explanation,
			"citations":   res.Citations,
		}
		b, _ := json.Marshal(payload)
		return string(b), nil

	case strings.HasPrefix(prompt, "Provide an in-depth explanation"):
		return "The candidate's experience aligns with the core responsibilities of the role. " +
			"Strengths include direct overlap with the required skills named in the job description. " +
			"Gaps remain where the posting emphasizes areas the resume does not mention. " +
			"The score reflects the proportion of required skills evidenced by the resume.", nil

	case strings.HasPrefix(prompt, "Job Description Context:"):
		labels := candidateLabel.FindAllStringSubmatch(prompt, -1)
		names := make([]string, 0, len(labels))
		for _, m := range labels {
			names = append(names, m[1])
		}
		if len(names) == 0 {
			return "No candidates were provided for analysis.", nil
		}
		return fmt.Sprintf("Reviewed %d candidates: %s. %s shows the strongest overall alignment with the job description context.",
			len(names), strings.Join(names, ", "), names[0]), nil
	}
	return "Analysis complete.", nil
}

// Models reports the configured model as served so readiness checks pass.
func (s *Stub) Models(_ domain.Context) ([]string, error) {
	return []string{s.model}, nil
}

// segment returns the text between start and end markers, trimmed. An empty
// end means everything after start.
func segment(text, start, end string) string {
	i := strings.Index(text, start)
	if i < 0 {
		return ""
	}
	rest := text[i+len(start):]
	if end != "" {
		if j := strings.Index(rest, end); j >= 0 {
			rest = rest[:j]
		}
	}
	return strings.TrimSpace(rest)
}
