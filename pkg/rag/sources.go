package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/pkg/llms"
)

// Search strategies a source decision can name.
const (
	StrategyUserDocsOnly = "user_docs_only"
	StrategyKBOnly       = "kb_only"
	StrategyBoth         = "both"
	StrategyNone         = "none"
)

// SourceDecision is the classifier's routing verdict for one query.
type SourceDecision struct {
	UseUserDocs    bool   `json:"use_user_docs"`
	UseKB          bool   `json:"use_kb"`
	SearchStrategy string `json:"search_strategy"`
	Reasoning      string `json:"reasoning"`
}

// SourceClassifier decides which knowledge sources answer a query. It asks
// a fast model to apply a fixed priority rubric and returns a best-effort
// decision; it never fails the turn.
type SourceClassifier struct {
	llm    llms.Provider
	logger *slog.Logger
}

// NewSourceClassifier creates a classifier over the given model.
func NewSourceClassifier(llm llms.Provider) *SourceClassifier {
	return &SourceClassifier{llm: llm, logger: slog.Default()}
}

const classifierPromptTemplate = `You are a precise and logical routing agent for an AI system. Your only job is to analyze the user's query and the system's state to decide which knowledge source to use for the answer.

---
## System State & Context

* **User Query:** "%s"
* **User Document Status:** A new document was just uploaded for this query: **%t**
* **Knowledge Base (KB) Status:** %s
* **Custom GPT Instructions:** "%s"

---
## Decision Logic (Follow in this exact order)

**1. PRIORITY #1: The "Just Uploaded" Rule**
* **IF** a new document was just uploaded (` + "`true`" + `) AND the query is generic (like "summarize this", "explain", "what are the key points?"),
* **THEN** your decision **MUST BE** ` + "`\"user_docs_only\"`" + `. This rule overrides all others to ensure immediate relevance.

**2. PRIORITY #2: The "Comparison & Evaluation" Rule**
* **IF** the query asks for a **comparison, review, or validation** (e.g., "compare this to", "review this against", "does this meet standards?") AND the **Custom GPT Instructions** imply a standard of comparison (e.g., "You are a resume reviewer," "You are a code auditor"),
* **THEN** your decision **MUST BE** ` + "`\"both\"`" + ` (if the KB is available).

**3. PRIORITY #3: The "Contextual Explanation" Rule**
* **IF** the query asks for an **explanation** that requires external domain knowledge AND the **Custom GPT Instructions** indicate the KB contains that knowledge (e.g., "You are a legal contract assistant" and the query is "explain this clause"),
* **THEN** your decision is ` + "`\"both\"`" + ` (if the KB is available).

**4. PRIORITY #4: The Default Rule**
* **For all other specific queries** that are not simple greetings, your default decision is ` + "`\"user_docs_only\"`" + ` (if user documents are available).

**5. PRIORITY #5: The "No Docs / General Query" Rule**
* **IF** no user documents are available OR the query is a general question about a topic, use ` + "`\"kb_only\"`" + ` if the query is relevant to the KB. Otherwise, select ` + "`\"none\"`" + `.

---
## Output Format

You **MUST** respond with a single, valid JSON object and nothing else.

{
    "use_user_docs": true/false,
    "use_kb": true/false,
    "search_strategy": "user_docs_only" | "kb_only" | "both" | "none",
    "reasoning": "Brief explanation of decision"
}`

// Classify returns the source decision for a query. Unavailable sources are
// forced off regardless of what the model said. Any model or parse failure
// degrades to the all-available fallback.
func (sc *SourceClassifier) Classify(ctx context.Context, query, instruction string, hasUserDocs, hasKB bool) SourceDecision {
	kbStatus := "Not Available"
	if hasKB {
		kbStatus = "Available"
	}
	if instruction == "" {
		instruction = "General assistant"
	}

	prompt := fmt.Sprintf(classifierPromptTemplate, query, hasUserDocs, kbStatus, instruction)

	text, _, _, err := sc.llm.Generate(ctx, []llms.Message{llms.User(prompt)}, nil)
	if err != nil {
		sc.logger.Warn("Source classification failed, defaulting to all available sources", "error", err)
		return fallbackDecision(hasUserDocs, hasKB)
	}

	var decision SourceDecision
	if err := json.Unmarshal([]byte(StripJSONFences(text)), &decision); err != nil {
		sc.logger.Warn("Source decision parse failed, defaulting to all available sources", "error", err)
		return fallbackDecision(hasUserDocs, hasKB)
	}

	if !hasUserDocs {
		decision.UseUserDocs = false
	}
	if !hasKB {
		decision.UseKB = false
	}

	sc.logger.Info("Source routing decided",
		"strategy", decision.SearchStrategy,
		"user_docs", decision.UseUserDocs,
		"kb", decision.UseKB,
		"reasoning", decision.Reasoning,
	)
	return decision
}

// fallbackDecision selects every available source.
func fallbackDecision(hasUserDocs, hasKB bool) SourceDecision {
	strategy := StrategyNone
	switch {
	case hasUserDocs && hasKB:
		strategy = StrategyBoth
	case hasUserDocs:
		strategy = StrategyUserDocsOnly
	case hasKB:
		strategy = StrategyKBOnly
	}
	return SourceDecision{
		UseUserDocs:    hasUserDocs,
		UseKB:          hasKB,
		SearchStrategy: strategy,
		Reasoning:      "Fallback due to parsing error",
	}
}

// StripJSONFences removes a markdown code fence wrapping a JSON payload.
// Models often fence structured answers even when told not to.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
