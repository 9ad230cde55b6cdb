package research

import (
	"strconv"
	"strings"
)

// listNumbering holds the characters stripped from the front of accepted
// list lines: digits, dots, dashes, bullets, closing parens.
const listNumbering = "0123456789.-•) "

const (
	// minQuestionLen rejects stripped list lines at or under this many
	// runes; real sub-questions are longer.
	minQuestionLen = 15

	// minGapLen rejects noise lines in the GAPS section.
	minGapLen = 10
)

// parseSubQuestions extracts research sub-questions from an LLM planning
// reply. Only list-shaped lines count: the line must start with a digit,
// "-", or "•", and survive numbering-stripping at more than minQuestionLen
// runes.
func parseSubQuestions(content string) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !isListLine(line) {
			continue
		}
		cleaned := strings.TrimSpace(strings.TrimLeft(line, listNumbering))
		if len([]rune(cleaned)) > minQuestionLen {
			questions = append(questions, cleaned)
		}
	}
	return questions
}

func isListLine(line string) bool {
	if line == "" {
		return false
	}
	return (line[0] >= '0' && line[0] <= '9') ||
		strings.HasPrefix(line, "-") ||
		strings.HasPrefix(line, "•")
}

// gapAnalysis is the parsed result of the analyze-gaps LLM call.
type gapAnalysis struct {
	confidence float64
	gaps       []string
	followUps  []string
	reasoning  string
}

// defaultGapAnalysis covers a missing or unparseable analysis reply:
// middling confidence and no follow-ups, which sends the loop to synthesis.
func defaultGapAnalysis() gapAnalysis {
	return gapAnalysis{confidence: 0.5}
}

// parseGapAnalysis reads the CONFIDENCE / GAPS / FOLLOW_UP / REASONING
// sections of an analysis reply. Each section is parsed independently and
// keeps its default when missing or malformed; list sections containing
// "none" are treated as empty.
func parseGapAnalysis(content string) gapAnalysis {
	analysis := defaultGapAnalysis()

	if rest, ok := sectionAfter(content, "CONFIDENCE:"); ok {
		line := rest
		if i := strings.Index(line, "\n"); i >= 0 {
			line = line[:i]
		}
		if v, err := strconv.ParseFloat(keepNumeric(line), 64); err == nil {
			analysis.confidence = v
		}
	}

	if section, ok := sectionBetween(content, "GAPS:", "FOLLOW_UP:"); ok {
		if !strings.Contains(strings.ToLower(section), "none") {
			for _, line := range strings.Split(section, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "CONFIDENCE") {
					continue
				}
				if len([]rune(line)) > minGapLen {
					analysis.gaps = append(analysis.gaps, line)
				}
			}
		}
	}

	if section, ok := sectionBetween(content, "FOLLOW_UP:", "REASONING:"); ok {
		if !strings.Contains(strings.ToLower(section), "none") {
			for _, line := range strings.Split(section, "\n") {
				cleaned := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), listNumbering))
				if len([]rune(cleaned)) > minQuestionLen && strings.Contains(cleaned, "?") {
					analysis.followUps = append(analysis.followUps, cleaned)
				}
			}
		}
	}

	if rest, ok := sectionAfter(content, "REASONING:"); ok {
		analysis.reasoning = strings.TrimSpace(rest)
	}

	return analysis
}

// sectionAfter returns everything after the first occurrence of marker.
func sectionAfter(content, marker string) (string, bool) {
	i := strings.Index(content, marker)
	if i < 0 {
		return "", false
	}
	return content[i+len(marker):], true
}

// sectionBetween returns the trimmed text after marker, cut at the next
// marker when present.
func sectionBetween(content, marker, next string) (string, bool) {
	rest, ok := sectionAfter(content, marker)
	if !ok {
		return "", false
	}
	if i := strings.Index(rest, next); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest), true
}

// keepNumeric strips everything but digits and dots, tolerating confidence
// lines like "0.8 (fairly sure)".
func keepNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
