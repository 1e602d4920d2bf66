package enhance

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	numberPrefix = regexp.MustCompile(`^\d+\.\s*`)
	bulletPrefix = regexp.MustCompile(`^-\s*`)
)

// parseFAQs reads "Q:" / "A:" pairs. Non-empty lines after an answer are
// appended to it; a question without an answer is dropped.
func parseFAQs(resp string) []FAQ {
	faqs := []FAQ{}
	var q, a string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Q:"):
			if q != "" && a != "" {
				faqs = append(faqs, FAQ{Question: q, Answer: a})
			}
			q = strings.TrimSpace(line[2:])
			a = ""
		case strings.HasPrefix(line, "A:"):
			a = strings.TrimSpace(line[2:])
		case a != "" && line != "":
			a += " " + line
		}
	}
	if q != "" && a != "" {
		faqs = append(faqs, FAQ{Question: q, Answer: a})
	}
	return faqs
}

// parseVariations keeps lines longer than 20 characters, skipping headings
// and dropping list numbering.
func parseVariations(resp string) []string {
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Variation") || strings.HasPrefix(line, "#") {
			continue
		}
		line = numberPrefix.ReplaceAllString(line, "")
		if utf8.RuneCountInString(line) > 20 {
			out = append(out, line)
		}
	}
	return out
}

// parseSuggestions keeps up to five question lines longer than 10
// characters, without numbering or dashes.
func parseSuggestions(resp string) []string {
	out := []string{}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "?") {
			continue
		}
		line = numberPrefix.ReplaceAllString(line, "")
		line = bulletPrefix.ReplaceAllString(line, "")
		if utf8.RuneCountInString(line) > 10 {
			out = append(out, line)
		}
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}

// parseQuestions returns one question per non-empty line with leading
// bullets, digits and list punctuation removed.
func parseQuestions(resp string) []string {
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•0123456789. )(")
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
