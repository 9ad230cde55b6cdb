// Package research implements the deep-research leaf node. One run plans
// sub-questions for the query, gathers web evidence over bounded
// iterations, analyzes what is still missing, and synthesizes a cited
// report. Internally the node is a small subgraph: phases connected by a
// router that dispatches on the record's route field, the same way the
// outer engine dispatches on the turn route.
package research

// phase names an internal subgraph node.
type phase string

const (
	phasePlan       phase = "plan_research"
	phaseExecute    phase = "execute_research"
	phaseAnalyze    phase = "analyze_gaps"
	phaseSynthesize phase = "synthesize_report"
	phaseEnd        phase = "END"
)

// Finding is one piece of gathered research evidence.
type Finding struct {
	// Query is the sub-question this finding answers.
	Query string

	// Source labels the retrieval channel. Always "web" today.
	Source string

	// Content holds one "title: snippet" line per search result.
	Content string

	// URLs locate the results backing the content.
	URLs []string

	// Iteration is the research iteration the finding was gathered in.
	Iteration int
}

// record is the embedded research state threaded through the phases.
// Creating one doubles as the subgraph's initialize step: a fresh record
// carries an empty plan, iteration zero, and routes to planning.
type record struct {
	query         string
	route         phase
	plan          []string
	iteration     int
	maxIterations int
	findings      []Finding
	knowledgeGaps []string
	confidence    float64
	sources       []string
}

func newRecord(query string, maxIterations int) *record {
	return &record{
		query:         query,
		route:         phasePlan,
		maxIterations: maxIterations,
	}
}

// uniqueSources returns the deduplicated source URLs in first-seen order,
// capped at limit when limit > 0.
func (r *record) uniqueSources(limit int) []string {
	seen := make(map[string]struct{}, len(r.sources))
	var urls []string
	for _, url := range r.sources {
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
		if limit > 0 && len(urls) == limit {
			break
		}
	}
	return urls
}
