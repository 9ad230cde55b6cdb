// Package strand is a conversational AI backend execution engine.
//
// Strand runs each user turn through a graph of specialized nodes: an
// orchestrator plans the turn, leaf nodes answer it (hybrid retrieval, web
// search, deep research, plain generation, image generation, external
// tools), and a streaming multiplexer carries incremental output to the
// client while the turn is still running.
//
// # Quick Start
//
// Install and start the server:
//
//	go install github.com/strandlabs/strand/cmd/strand@latest
//	export OPENAI_API_KEY=sk-...
//	strand serve
//
// Or run from a configuration file:
//
//	llm:
//	  provider: "openai"
//	  model: "gpt-4o"
//	  api_key: "${OPENAI_API_KEY}"
//
//	vector:
//	  url: "memory"
//
//	strand serve --config strand.yaml
//
// # Using as a Go Library
//
//	cfg := config.Default()
//	rt, err := runtime.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	sink := stream.NewBufferSink()
//	res, err := rt.Turn(ctx, runtime.TurnRequest{
//		SessionID: sid,
//		Message:   "summarize my document",
//	}, sink)
//
// See pkg/runtime for the engine entry point, pkg/server for the HTTP
// surface, and pkg/config for the full configuration reference.
package strand
