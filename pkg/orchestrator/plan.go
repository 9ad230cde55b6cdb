package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/strandlabs/strand/pkg/graph"
)

// jsonObjectPattern grabs the first-to-last brace span so plans survive
// markdown fences and surrounding prose.
var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

type executionPlan struct {
	ExecutionOrder []string `json:"execution_order"`
}

// parseExecutionOrder extracts the planner's step list from a model reply.
// Double-brace escapes some models emit are unescaped before decoding.
// Returns nil when no plan can be decoded.
func parseExecutionOrder(text string) []string {
	raw := jsonObjectPattern.FindString(text)
	if raw == "" {
		raw = text
	}
	raw = strings.ReplaceAll(raw, "{{", "{")
	raw = strings.ReplaceAll(raw, "}}", "}")

	var plan executionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil
	}
	return plan.ExecutionOrder
}

// firstJSONObject returns the first brace-delimited span of text, or "".
func firstJSONObject(text string) string {
	return jsonObjectPattern.FindString(text)
}

// routeAliases is the one place alias spellings are accepted. Everywhere
// else the Route enum is used directly.
var routeAliases = map[string]graph.Route{
	"web_search":    graph.RouteWebSearch,
	"websearch":     graph.RouteWebSearch,
	"search":        graph.RouteWebSearch,
	"rag":           graph.RouteRAG,
	"simple_llm":    graph.RouteSimpleLLM,
	"simplellm":     graph.RouteSimpleLLM,
	"llm":           graph.RouteSimpleLLM,
	"image":         graph.RouteImage,
	"image_gen":     graph.RouteImage,
	"tool":          graph.RouteTool,
	"tools":         graph.RouteTool,
	"mcp":           graph.RouteTool,
	"deep_research": graph.RouteDeepResearch,
	"deepresearch":  graph.RouteDeepResearch,
	"end":           graph.RouteEnd,
}

// normalizeRoute canonicalizes a planner-emitted node name. The second
// return is false for names outside the alias table; callers drop those.
func normalizeRoute(name string) (graph.Route, bool) {
	route, ok := routeAliases[strings.ToLower(strings.TrimSpace(name))]
	return route, ok
}

// applyUploadPolicy forces retrieval to run first when the turn carries a
// new upload. Single-step plans become [RAG]; multi-step plans that skip
// retrieval get it prepended; plans already touching RAG pass through.
func applyUploadPolicy(plan []graph.Route, uploaded bool) []graph.Route {
	if !uploaded {
		return plan
	}
	switch {
	case len(plan) == 0:
		return []graph.Route{graph.RouteRAG}
	case len(plan) == 1 && plan[0] != graph.RouteRAG:
		return []graph.Route{graph.RouteRAG}
	case len(plan) > 1 && !containsRoute(plan, graph.RouteRAG):
		return append([]graph.Route{graph.RouteRAG}, plan...)
	default:
		return plan
	}
}

func containsRoute(plan []graph.Route, route graph.Route) bool {
	for _, r := range plan {
		if r == route {
			return true
		}
	}
	return false
}
