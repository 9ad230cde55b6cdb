package observability

const (
	AttrSessionID       = "session.id"
	AttrNodeName        = "node.name"
	AttrRouteName       = "route.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrSearchStrategy  = "search.strategy"
	AttrSearchResults   = "search.results"
	AttrErrorType       = "error.type"

	SpanTurn              = "chat.turn"
	SpanNodeExecution     = "graph.node"
	SpanLLMRequest        = "llm.request"
	SpanSearch            = "retrieval.search"
	SpanWebSearch         = "web.search"
	SpanResearchIteration = "research.iteration"
	SpanHTTPRequest       = "http.request"

	DefaultServiceName = "strand"
)
