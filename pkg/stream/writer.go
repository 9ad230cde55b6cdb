package stream

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Writer emits the content frames for one node, maintaining the running
// full_response. One Writer per node execution; Complete must be called
// before the next node starts streaming.
type Writer struct {
	sink Sink
	node string
	full strings.Builder
	done bool
}

// NewWriter creates a content writer for the named node.
func NewWriter(sink Sink, node string) *Writer {
	return &Writer{sink: sink, node: node}
}

// Write emits one content delta. Empty deltas are dropped.
func (w *Writer) Write(ctx context.Context, delta string) error {
	if delta == "" || w.done {
		return nil
	}
	w.full.WriteString(delta)
	return w.sink.Send(ctx, Content(delta, w.full.String(), false, w.node))
}

// Complete emits the completion frame (empty content, is_complete=true).
// Subsequent writes are ignored.
func (w *Writer) Complete(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	return w.sink.Send(ctx, Content("", w.full.String(), true, w.node))
}

// Full returns the accumulated response so far.
func (w *Writer) Full() string {
	return w.full.String()
}

// WriteAll streams an already-assembled response through the sink in small
// windows, then completes. Used by nodes that build their answer before
// emitting it. Windows end on rune boundaries so no frame carries a split
// multi-byte character.
func WriteAll(ctx context.Context, sink Sink, node, response string) error {
	w := NewWriter(sink, node)
	const window = 15
	for i := 0; i < len(response); {
		end := i + window
		if end >= len(response) {
			end = len(response)
		} else {
			for end > i && !utf8.RuneStart(response[end]) {
				end--
			}
			if end == i {
				// Invalid UTF-8 run longer than the window; pass it
				// through unaligned rather than stall.
				end = i + window
			}
		}
		if err := w.Write(ctx, response[i:end]); err != nil {
			return err
		}
		i = end
	}
	return w.Complete(ctx)
}
