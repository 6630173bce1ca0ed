// Package prompt assembles the model prompts used by the screening pipeline.
// Builders are pure: the same inputs always produce the same string, and no
// builder truncates its inputs. Callers that need length control run the
// condenser first.
package prompt

import (
	"strconv"
	"strings"
)

// JobSummary asks for a three-section bullet summary of a job description.
// The section headers are load-bearing: the summarization round-trip check
// looks for them in the response.
func JobSummary(jobText string) string {
	b := &strings.Builder{}
	b.WriteString("Summarize this job description in three sections:\n")
	b.WriteString("1. Responsibilities: Main tasks and goals\n")
	b.WriteString("2. Required Skills: Technical, analytical, interpersonal\n")
	b.WriteString("3. Desired Experience: Years, industry, certifications, education\n")
	b.WriteString("Use bullet points.\n\n")
	b.WriteString("Job Description:\n")
	b.WriteString(jobText)
	return b.String()
}

// AnonymizeResume instructs the model to strip identifying detail while
// keeping professional substance. Used when redaction is delegated to the
// model instead of the pattern layer.
func AnonymizeResume(label, resumeText string) string {
	b := &strings.Builder{}
	b.WriteString("GDPR anonymize resume ID ")
	b.WriteString(label)
	b.WriteString(":\n")
	b.WriteString("Remove: name, address, phone, email, DOB, gender, photo, social media\n")
	b.WriteString("Keep: job titles, employers, dates, locations (city), experience, education, certs, skills\n")
	b.WriteString("Output anonymized data only.\n\n")
	b.WriteString("Resume:\n")
	b.WriteString(resumeText)
	return b.String()
}

// RankCandidate requests a strict single JSON object scoring one resume
// against one job description. The parser depends on the exact schema wording
// here; change both together.
func RankCandidate(jobDesc, resumeText string) string {
	b := &strings.Builder{}
	b.WriteString("You are evaluating a candidate's suitability for a job.\n\n")
	b.WriteString("Job Description:\n")
	b.WriteString(jobDesc)
	b.WriteString("\n\nCandidate Resume:\n")
	b.WriteString(resumeText)
	b.WriteString("\n\nIMPORTANT: Respond ONLY with valid JSON in this exact format. No other text.\n\n")
	b.WriteString("{\n")
	b.WriteString("  \"score\": 0.85,\n")
	b.WriteString("  \"explanation\": \"Brief 2-3 sentence explanation of fit quality\",\n")
	b.WriteString("  \"citations\": [\"specific skill match\", \"another match\"]\n")
	b.WriteString("}\n\n")
	b.WriteString("The score must be between 0.0 and 1.0 where 1.0 is perfect match.")
	return b.String()
}

// Explanation asks for a deeper rationale behind an existing score, citing
// both texts. The score is rendered with two decimals so repeated calls for
// the same ranking build the same prompt.
func Explanation(jobDesc, profileSummary string, score float64) string {
	b := &strings.Builder{}
	b.WriteString("Provide an in-depth explanation for why the candidate received a score of ")
	b.WriteString(strconv.FormatFloat(score, 'f', 2, 64))
	b.WriteString("/1.0 for this job.\n\n")
	b.WriteString("Use the following information:\n\n")
	b.WriteString("Job Description:\n")
	b.WriteString(jobDesc)
	b.WriteString("\n\nCandidate Profile Summary:\n")
	b.WriteString(profileSummary)
	b.WriteString("\n\nHighlight:\n")
	b.WriteString("- Candidate's strengths and key fit factors\n")
	b.WriteString("- Areas where candidate may be lacking or less aligned\n")
	b.WriteString("- Specific examples or citations from both texts supporting these insights\n")
	b.WriteString("- The overall rationale behind the ranking score\n")
	return b.String()
}

// CandidateText pairs a stable candidate label with redacted resume text for
// the combined analysis prompt.
type CandidateText struct {
	Label string
	Text  string
}

// CustomAnalysis builds the whole-pool prompt: the job summary, every
// redacted resume under its label in upload order, then the caller's
// instruction.
func CustomAnalysis(jobSummary string, resumes []CandidateText, instruction string) string {
	b := &strings.Builder{}
	b.WriteString("Job Description Context:\n")
	b.WriteString(jobSummary)
	b.WriteString("\n\nResumes:\n")
	for i, r := range resumes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Label)
		b.WriteString(":\n")
		b.WriteString(r.Text)
	}
	b.WriteString("\n\nInstruction:\n")
	b.WriteString(instruction)
	return b.String()
}

// OverallFitInstruction is the stock instruction offered for the combined
// analysis when the caller does not supply one.
func OverallFitInstruction() string {
	return "Assess each candidate's overall fit:\n" +
		"- Job alignment (responsibilities, tools/tech, domain, experience, qualifications)\n" +
		"- Impact (achievements, career progression)\n" +
		"- Skills (technical, soft: communication, problem-solving, ownership)\n" +
		"- Practical fit (values, work style, stability)\n" +
		"Rank the three best candidates, with one-sentence rationale per ranking, " +
		"2 sentences on suitability (strengths/weaknesses) and 2 interview questions per candidate. " +
		"Refer to candidates by their respective candidate ID (e.g., Candidate001, Candidate002)."
}
