// Package condense shortens job description text before prompt assembly.
// It is rule-based and deterministic, applied only to job text so that no
// single candidate's material is compressed more than another's.
package condense

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/talentsift/screener/pkg/textx"
)

var (
	repeatedPunct = regexp.MustCompile(`([!?.]){2,}`)
	listMarker    = regexp.MustCompile(`^[\s\-\*•]+(\d+\.?)?\s*`)
	multiSpace    = regexp.MustCompile(`\s+`)
	gluedSentence = regexp.MustCompile(`\.([A-Za-z])`)
)

// Conjunctions survive only strictly between two words; these prepositions
// survive anywhere except sentence start. Dropping them elsewhere changes
// meaning more than it saves tokens.
var (
	midConjunctions = map[string]struct{}{"and": {}, "or": {}, "but": {}}
	boundPreps      = map[string]struct{}{"with": {}, "from": {}, "to": {}, "for": {}}
)

// DefaultFillerPhrases returns the recruiting boilerplate removed from job
// sentences. Deployments can override the list via the patterns file.
func DefaultFillerPhrases() []string {
	return []string{
		"we are looking for", "the ideal candidate", "in this role",
		"you will be responsible", "what you'll do", "your responsibilities",
		"equal opportunity employer", "eeo statement", "diversity and inclusion",
		"about the company", "our company", "who we are", "company culture",
		"benefits and perks", "what we offer", "compensation and benefits",
		"how to apply", "application process", "contact information", "travel requirements",
	}
}

// DefaultFillerWords returns the stopword list dropped from job sentences.
func DefaultFillerWords() []string {
	return []string{
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
		"with", "by", "from", "of", "as", "is", "are", "was", "were", "be",
		"been", "being", "have", "has", "had", "do", "does", "did", "will",
		"would", "could", "should", "may", "might", "must", "can", "this",
		"that", "these", "those", "just", "only", "really", "very", "quite",
		"also", "then", "now", "well", "so", "however", "therefore",
		"furthermore", "moreover", "nevertheless", "nonetheless", "thus",
		"hence", "accordingly", "consequently", "meanwhile", "otherwise",
		"besides", "anyway", "anyhow", "incidentally", "naturally", "certainly",
		"definitely", "probably", "possibly", "perhaps", "maybe", "generally",
		"usually", "typically", "normally", "commonly", "regularly", "sometimes",
		"occasionally", "often", "frequently", "rarely", "seldom", "hardly",
		"scarcely", "barely", "almost", "nearly", "approximately", "roughly",
		"about", "around", "like", "such", "etc", "etcetera", "including",
		"along", "among", "upon", "within", "without", "toward", "towards",
		"against", "during", "since", "until", "after", "before", "because",
		"though", "although", "while", "whereas", "whether", "if", "unless",
		"till", "once", "whenever", "wherever", "whoever", "whichever",
		"whatever", "howsoever", "whysoever", "whatsoever", "whosoever",
		"whomsoever", "whosesoever",
	}
}

// Condenser applies the shortening rules. Safe for concurrent use.
type Condenser struct {
	phrases []*regexp.Regexp
	words   map[string]struct{}
}

// New builds a Condenser. Empty slices fall back to the default lists.
func New(fillerPhrases, fillerWords []string) *Condenser {
	if len(fillerPhrases) == 0 {
		fillerPhrases = DefaultFillerPhrases()
	}
	if len(fillerWords) == 0 {
		fillerWords = DefaultFillerWords()
	}
	phrases := make([]*regexp.Regexp, 0, len(fillerPhrases))
	for _, p := range fillerPhrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		phrases = append(phrases, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
	}
	words := make(map[string]struct{}, len(fillerWords))
	for _, w := range fillerWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		words[w] = struct{}{}
	}
	return &Condenser{phrases: phrases, words: words}
}

// Condense returns a shorter rendition of text. Sentences under three words
// and exact repeats of the previously kept sentence are dropped, boilerplate
// phrases are removed once each, and stopwords are filtered subject to the
// conjunction and preposition position rules. A sentence consisting entirely
// of stopwords is kept verbatim rather than emptied.
func (c *Condenser) Condense(text string) string {
	text = textx.NormalizeSpace(text)
	if text == "" {
		return ""
	}

	var kept []string
	for _, sentence := range strings.Split(text, ". ") {
		if len(strings.Fields(sentence)) < 3 {
			continue
		}
		if len(kept) > 0 && strings.TrimSpace(sentence) == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}

		sentence = repeatedPunct.ReplaceAllString(sentence, "$1")
		sentence = listMarker.ReplaceAllString(sentence, "")
		sentence = c.stripPhrases(sentence)
		sentence = c.filterWords(sentence)

		if strings.TrimSpace(sentence) != "" {
			kept = append(kept, sentence)
		}
	}

	out := strings.Join(kept, ". ")
	out = multiSpace.ReplaceAllString(out, " ")
	out = gluedSentence.ReplaceAllString(out, ". $1")
	return out
}

func (c *Condenser) stripPhrases(sentence string) string {
	for _, re := range c.phrases {
		loc := re.FindStringIndex(sentence)
		if loc == nil {
			continue
		}
		sentence = strings.TrimSpace(sentence[:loc[0]] + sentence[loc[1]:])
		if sentence != "" {
			r, size := utf8.DecodeRuneInString(sentence)
			sentence = string(unicode.ToUpper(r)) + sentence[size:]
		}
	}
	return sentence
}

func (c *Condenser) filterWords(sentence string) string {
	words := strings.Fields(sentence)
	filtered := make([]string, 0, len(words))
	for i, word := range words {
		lower := strings.Trim(strings.ToLower(word), ".,!?;:\"'()[]{}")
		if _, filler := c.words[lower]; !filler {
			filtered = append(filtered, word)
			continue
		}
		if _, mid := midConjunctions[lower]; mid && i > 0 && i < len(words)-1 {
			filtered = append(filtered, word)
			continue
		}
		if _, prep := boundPreps[lower]; prep && i > 0 {
			filtered = append(filtered, word)
		}
	}
	if len(filtered) == 0 {
		return sentence
	}
	return strings.Join(filtered, " ")
}
