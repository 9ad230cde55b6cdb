package orchestrator

import (
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
)

// summaryInputCap bounds the transcript handed to the summarizer.
const summaryInputCap = 8000

// judgeHistoryTurns is how many recent messages the follow-up judge sees.
const judgeHistoryTurns = 12

// plannerPromptTemplate drives the query analyzer. The {user_query} token is
// substituted before the call; the reply must be strict JSON so
// parseExecutionOrder can extract the plan.
const plannerPromptTemplate = `You are the execution planner for a multi-capability AI assistant. Break the user's query into the ordered list of steps needed to answer it.

Available nodes:
- "rag": answer from the session's uploaded documents and knowledge base.
- "web_search": search the live web for current or external information.
- "simple_llm": answer directly from general knowledge and the conversation.
- "image_gen": generate an image from a text description.
- "mcp": operate connected external tools such as email or calendars.

Rules:
- Choose the minimal sequence of steps that fully answers the query.
- A step that depends on another step's output comes after it.
- Use "rag" when the query refers to uploaded files or stored knowledge.
- Use "web_search" for facts that change over time such as news or prices.
- Use ["simple_llm"] for greetings, chit-chat, and general questions.

User query: {user_query}

Respond with STRICT JSON only, exactly in this shape:
{"execution_order": ["node_name", "node_name"]}`

const summarizerSystemPrompt = "You are a concise conversation summarizer. Produce a compact summary of the prior dialogue. Preserve key entities, intents, constraints, user preferences, and any lists (e.g., recommended books) so follow-up questions can be answered consistently. Output plain text, no markdown."

// summaryFallback stands in for the summary when the model call fails so
// downstream prompts still carry a context line.
const summaryFallback = "Conversation so far: user asked questions; assistant answered with recommendations and details."

const judgeSystemPrompt = "You are a routing judge. Decide if the NEW user message is a FOLLOW-UP in the same thread that should keep using the same sources (uploaded documents and/or knowledge base). Consider the conversation and the presence of docs/KB in the session.\nOutput STRICT JSON with keys: is_followup (bool), should_use_rag (bool), confidence (0..1), rationale (short string)."

const synthesizerPromptTemplate = `You are a final answer synthesizer. Your task is to assemble the results from a multi-step AI execution into a single, cohesive, and well-structured response for the user.

**Original User Query:**
%s

---

**Execution Log & Results:**
%s

---

**Your Task:**
Based on the user's original query and the collected results from the execution log, write a comprehensive final answer.
- Address all parts of the user's original request.
- Use markdown for clear formatting (headings, subheadings, lists).
- **Do not** mention the intermediate steps or node names (e.g., "First, WebSearch found..."). Just present the information directly and seamlessly.
- Combine related information. For example, if two steps found information about machine learning, synthesize it into one section.
- Write in a helpful and clear tone.`

// emptyStepLog replaces the execution log when no step produced output.
const emptyStepLog = "No intermediate results were generated."

func plannerPrompt(userQuery string) string {
	return strings.ReplaceAll(plannerPromptTemplate, "{user_query}", userQuery)
}

func summaryRequestPrompt(transcript string) string {
	return fmt.Sprintf("Summarize the following conversation:\n\n%s\n\nReturn only the summary.", transcript)
}

func judgeRequestPrompt(docsPresent, kbPresent bool, turns, query string) string {
	return fmt.Sprintf("Docs present: %t | KB present: %t\nConversation:\n%s\n\nNEW user message: %s\nReturn JSON only.",
		docsPresent, kbPresent, turns, query)
}

func firstStepRewritePrompt(userQuery string, plan []graph.Route, task graph.Route) string {
	return fmt.Sprintf(`Original User Query: %q
Full Execution Plan: %v
Task: Create a precise, standalone query for the FIRST step in the plan: '%s'.
The query should only contain what is needed for this single step.
Output ONLY the rewritten query.
Rewritten Query:`, userQuery, plan, task)
}

func nextStepRewritePrompt(userQuery string, plan []graph.Route, task graph.Route, last graph.IntermediateResult) string {
	return fmt.Sprintf(`You are a query rewriter for a multi-step AI agent. Your job is to craft the perfect, self-contained query for the next step of a plan.

**Original User Goal:**
%s

**Full Execution Plan:**
%v

**Most Recent Result (from node '%s'):**
%s

---

**Next Step to Execute:** '%s'

**Your Task:**
Create a new, standalone query for the next step.
- If the next step needs information from the previous result (e.g., a list of books), incorporate that information directly.
- If the next step is a different, independent part of the original query (e.g., "summarize the document"), isolate that part.
- The query should be self-contained and ready for the next node to execute.

**Output ONLY the rewritten query.**`, userQuery, plan, last.Node, last.Output, task)
}

func synthesizerPrompt(userQuery string, results []graph.IntermediateResult) string {
	return fmt.Sprintf(synthesizerPromptTemplate, userQuery, formatStepLog(results))
}

// formatStepLog renders the intermediate results as the execution log the
// synthesizer reads.
func formatStepLog(results []graph.IntermediateResult) string {
	if len(results) == 0 {
		return emptyStepLog
	}
	lines := make([]string, 0, len(results)*4)
	for i, r := range results {
		lines = append(lines,
			fmt.Sprintf("### Step %d: Result from Node '%s' ###", i+1, r.Node),
			fmt.Sprintf("Query for this step: %s", r.Query),
			fmt.Sprintf("Output:\n%s", r.Output),
			strings.Repeat("-", 20),
		)
	}
	return strings.Join(lines, "\n")
}

// renderTranscript renders history as "User:"/"Assistant:" lines for the
// summarizer, capped at summaryInputCap runes.
func renderTranscript(messages []llms.Message) string {
	var turns []string
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		speaker := "Assistant"
		if m.Role == llms.RoleUser {
			speaker = "User"
		}
		turns = append(turns, speaker+": "+m.Content)
	}
	return capRunes(strings.Join(turns, "\n"), summaryInputCap)
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
