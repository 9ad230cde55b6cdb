package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubQuestions_AcceptsNumberedAndBulletedLines(t *testing.T) {
	content := `Here are the sub-questions:

1. What are the core concepts of quantum computing?
2) How do quantum gates differ from classical gates?
- What are the main hardware challenges today?
• Which industries adopt quantum computing first?

Let me know if you need more.`

	questions := parseSubQuestions(content)

	require.Len(t, questions, 4)
	assert.Equal(t, "What are the core concepts of quantum computing?", questions[0])
	assert.Equal(t, "How do quantum gates differ from classical gates?", questions[1])
	assert.Equal(t, "What are the main hardware challenges today?", questions[2])
	assert.Equal(t, "Which industries adopt quantum computing first?", questions[3])
}

func TestParseSubQuestions_DropsShortAndProseLines(t *testing.T) {
	content := "1. Too short\n" +
		"2. What is quantum entanglement used for?\n" +
		"This prose line is long enough but is not a list entry."

	questions := parseSubQuestions(content)

	require.Len(t, questions, 1)
	assert.Equal(t, "What is quantum entanglement used for?", questions[0])
}

func TestParseSubQuestions_NoListLines(t *testing.T) {
	assert.Empty(t, parseSubQuestions(""))
	assert.Empty(t, parseSubQuestions("The query is already specific enough."))
}

func TestParseGapAnalysis_FullReply(t *testing.T) {
	content := `CONFIDENCE: 0.6
GAPS: Missing recent benchmark data for current hardware
Missing cost comparisons between vendors
FOLLOW_UP: 1. What do the latest benchmarks show for error rates?
2. How much does a logical qubit cost across vendors?
REASONING: Coverage is decent but the quantitative side is thin.`

	analysis := parseGapAnalysis(content)

	assert.InDelta(t, 0.6, analysis.confidence, 1e-9)
	require.Len(t, analysis.gaps, 2)
	assert.Equal(t, "Missing recent benchmark data for current hardware", analysis.gaps[0])
	assert.Equal(t, "Missing cost comparisons between vendors", analysis.gaps[1])
	require.Len(t, analysis.followUps, 2)
	assert.Equal(t, "What do the latest benchmarks show for error rates?", analysis.followUps[0])
	assert.Equal(t, "How much does a logical qubit cost across vendors?", analysis.followUps[1])
	assert.Equal(t, "Coverage is decent but the quantitative side is thin.", analysis.reasoning)
}

func TestParseGapAnalysis_NoneSectionsAreEmpty(t *testing.T) {
	content := `CONFIDENCE: 0.9
GAPS: None
FOLLOW_UP: None
REASONING: The evidence already covers every aspect.`

	analysis := parseGapAnalysis(content)

	assert.InDelta(t, 0.9, analysis.confidence, 1e-9)
	assert.Empty(t, analysis.gaps)
	assert.Empty(t, analysis.followUps)
}

func TestParseGapAnalysis_MissingSectionsKeepDefaults(t *testing.T) {
	analysis := parseGapAnalysis("The model rambled without any structure.")

	assert.InDelta(t, 0.5, analysis.confidence, 1e-9)
	assert.Empty(t, analysis.gaps)
	assert.Empty(t, analysis.followUps)
	assert.Empty(t, analysis.reasoning)
}

func TestParseGapAnalysis_LenientConfidenceLine(t *testing.T) {
	analysis := parseGapAnalysis("CONFIDENCE: around 0.75 overall\nFOLLOW_UP: None")
	assert.InDelta(t, 0.75, analysis.confidence, 1e-9)
}

func TestParseGapAnalysis_MalformedConfidenceFallsBack(t *testing.T) {
	analysis := parseGapAnalysis("CONFIDENCE: high\nFOLLOW_UP: None")
	assert.InDelta(t, 0.5, analysis.confidence, 1e-9)
}

func TestParseGapAnalysis_FollowUpsRequireQuestionShape(t *testing.T) {
	content := `CONFIDENCE: 0.4
FOLLOW_UP: 1. Check the vendor documentation again
2. What benchmarks exist for error correction at scale?
3. Short one?
REASONING: Needs more depth.`

	analysis := parseGapAnalysis(content)

	require.Len(t, analysis.followUps, 1)
	assert.Equal(t, "What benchmarks exist for error correction at scale?", analysis.followUps[0])
}
