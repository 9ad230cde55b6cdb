package research

import (
	"fmt"
	"strings"
)

// systemPrompt frames every research LLM call.
const systemPrompt = "You are a deep research assistant. Conduct comprehensive multi-iteration research."

const (
	// analysisWindow bounds how many recent findings the gap-analysis
	// prompt summarizes.
	analysisWindow = 10

	// previewThreshold and previewCap control per-finding previews in the
	// gap-analysis prompt: contents longer than the threshold are capped
	// and marked elided.
	previewThreshold = 300
	previewCap       = 500

	// findingCap bounds each finding's contribution to the synthesis
	// prompt.
	findingCap = 600

	// promptSourceLimit caps the URLs listed in the synthesis prompt;
	// reportSourceLimit caps the appended source section of the report.
	promptSourceLimit = 10
	reportSourceLimit = 15
)

const planningPromptTemplate = `%s
---
User's Complex Query: %s

Task: Break this down into 3-10 specific sub-questions that need to be answered comprehensively.

Provide sub-questions as a numbered list. Focus on:
1. Core concepts and definitions
2. Current state and recent developments
3. Key challenges or controversies
4. Practical implications
5. Future directions (if relevant)

Sub-questions:`

const gapAnalysisPromptTemplate = `%s
---
Original Query: %s

Research Plan: %s

Questions Already Researched:
%s

Gathered Information Summary (Iteration %d/%d):
%s

---
Tasks:
1. Assess if we have enough information to answer the original query comprehensively
2. Identify any remaining knowledge gaps or unclear areas
3. Provide a confidence score (0.0-1.0) for how well we can answer the query
4. List 2-3 specific follow-up questions if gaps exist

Format your response EXACTLY as:
CONFIDENCE: [0.0-1.0]
GAPS: [List specific gaps, one per line, or "None"]
FOLLOW_UP: [Specific questions, one per line, or "None"]
REASONING: [One short paragraph explaining the assessment]`

const synthesisPromptTemplate = `%s

---

Original Query: %s

Research Summary: %d iterations completed, confidence %.2f, %d unique sources, %d findings.

All Gathered Information:
%s

Sources Used:
%s

---

Create a comprehensive, well-structured response that:
1. Directly answers the original query
2. Integrates information from multiple sources and iterations
3. Provides specific examples and evidence
4. Uses clear headings and structure
5. Cites sources where appropriate
6. Acknowledges any limitations or uncertainties
7. Is clear, accurate, and actionable

Final Report:`

func planningPrompt(query string) string {
	return fmt.Sprintf(planningPromptTemplate, systemPrompt, query)
}

// gapAnalysisPrompt summarizes the most recent findings and the questions
// already researched so the model can judge coverage of the original query.
func gapAnalysisPrompt(userQuery string, rec *record) string {
	recent := rec.findings
	if len(recent) > analysisWindow {
		recent = recent[len(recent)-analysisWindow:]
	}

	summaries := make([]string, 0, len(recent))
	answered := make([]string, 0, len(recent))
	for _, f := range recent {
		summaries = append(summaries, fmt.Sprintf("[%s] %s: %s",
			strings.ToUpper(f.Source), f.Query, previewContent(f.Content)))
		answered = append(answered, "- "+f.Query)
	}

	return fmt.Sprintf(gapAnalysisPromptTemplate,
		systemPrompt,
		userQuery,
		strings.Join(rec.plan, ", "),
		strings.Join(answered, "\n"),
		rec.iteration,
		rec.maxIterations,
		strings.Join(summaries, "\n\n"),
	)
}

// synthesisPrompt folds every finding into the report-writing prompt, each
// capped at findingCap runes, with up to promptSourceLimit unique URLs.
func synthesisPrompt(userQuery string, rec *record) string {
	blocks := make([]string, 0, len(rec.findings))
	for _, f := range rec.findings {
		blocks = append(blocks, fmt.Sprintf("[%s - Iteration %d]\nQuery: %s\nFindings: %s...\n",
			strings.ToUpper(f.Source), f.Iteration, f.Query, capRunes(f.Content, findingCap)))
	}

	sourcesText := "None"
	if urls := rec.uniqueSources(promptSourceLimit); len(urls) > 0 {
		lines := make([]string, len(urls))
		for i, url := range urls {
			lines[i] = "- " + url
		}
		sourcesText = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(synthesisPromptTemplate,
		systemPrompt,
		userQuery,
		rec.iteration,
		rec.confidence,
		len(rec.uniqueSources(0)),
		len(rec.findings),
		strings.Join(blocks, "\n\n"),
		sourcesText,
	)
}

// previewContent caps a finding's content for the gap-analysis prompt.
// Contents longer than previewThreshold runes are capped at previewCap and
// marked elided.
func previewContent(content string) string {
	runes := []rune(content)
	if len(runes) <= previewThreshold {
		return content
	}
	if len(runes) > previewCap {
		runes = runes[:previewCap]
	}
	return string(runes) + "..."
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
