// Package stream carries incremental turn output from graph nodes to the
// client. Frames are typed JSON records; sinks decide where they go (an SSE
// channel, a buffer for the non-streaming endpoint, a test recorder).
//
// Ordering contract: within one node, content frames are monotone (the
// running full_response only grows) and end with a completion frame whose
// content is empty and is_complete is true. Frames from the next plan step
// never start before that completion frame.
package stream

import (
	"context"
	"fmt"
	"sync"
)

// FrameType discriminates the frame payload.
type FrameType string

const (
	FrameStatus  FrameType = "status"
	FrameContent FrameType = "content"
	FrameError   FrameType = "error"
	FrameDone    FrameType = "done"
)

// Frame is one unit sent to the client, encoded as {"type": ..., "data": {...}}.
type Frame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data"`
}

// StatusData is an advisory progress report from a node.
type StatusData struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CurrentNode string `json:"current_node"`

	// Progress is 0-100 when known.
	Progress *int `json:"progress,omitempty"`
}

// ContentData is an incremental piece of model output.
type ContentData struct {
	// Content is the delta since the previous frame. Empty on the
	// completion frame.
	Content string `json:"content"`

	// FullResponse is the running concatenation for the emitting node.
	FullResponse string `json:"full_response"`

	// IsComplete marks the final content frame for the node.
	IsComplete bool `json:"is_complete"`

	// Node names the emitting node when known.
	Node string `json:"node,omitempty"`
}

// ErrorData is a terminal failure report.
type ErrorData struct {
	Error string `json:"error"`
}

// DoneData terminates the stream.
type DoneData struct {
	SessionID string `json:"session_id"`
}

// Status builds a status frame.
func Status(status, message, currentNode string) Frame {
	return Frame{Type: FrameStatus, Data: StatusData{
		Status:      status,
		Message:     message,
		CurrentNode: currentNode,
	}}
}

// StatusProgress builds a status frame with a progress percentage.
func StatusProgress(status, message, currentNode string, progress int) Frame {
	return Frame{Type: FrameStatus, Data: StatusData{
		Status:      status,
		Message:     message,
		CurrentNode: currentNode,
		Progress:    &progress,
	}}
}

// Content builds a content frame.
func Content(delta, fullResponse string, isComplete bool, node string) Frame {
	return Frame{Type: FrameContent, Data: ContentData{
		Content:      delta,
		FullResponse: fullResponse,
		IsComplete:   isComplete,
		Node:         node,
	}}
}

// Error builds an error frame.
func Error(message string) Frame {
	return Frame{Type: FrameError, Data: ErrorData{Error: message}}
}

// Done builds the terminal frame.
func Done(sessionID string) Frame {
	return Frame{Type: FrameDone, Data: DoneData{SessionID: sessionID}}
}

// Sink receives frames in emission order. Implementations must be safe for
// use from a single producer; the runtime serializes node execution so no
// two nodes write concurrently.
type Sink interface {
	Send(ctx context.Context, frame Frame) error
}

// ErrSinkClosed is returned by Send after the sink was closed.
var ErrSinkClosed = fmt.Errorf("stream: sink closed")

// ChannelSink bridges frames onto a channel consumed by the HTTP layer.
// The channel is owned by the sink: Close closes it exactly once and
// further sends fail with ErrSinkClosed.
type ChannelSink struct {
	ch     chan Frame
	mu     sync.Mutex
	closed bool
}

// NewChannelSink creates a sink with the given channel buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Frame, buffer)}
}

// Frames returns the consumer side of the sink.
func (s *ChannelSink) Frames() <-chan Frame {
	return s.ch
}

// Send delivers a frame, blocking until the consumer takes it or the
// context is cancelled.
func (s *ChannelSink) Send(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()

	select {
	case s.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the frame channel. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// BufferSink records frames in memory. Used by the buffered chat endpoint
// and by tests.
type BufferSink struct {
	mu     sync.Mutex
	frames []Frame
}

// NewBufferSink creates an empty buffer sink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// Send records the frame.
func (s *BufferSink) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

// Frames returns a copy of everything recorded so far.
func (s *BufferSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// FinalResponse returns the full_response of the last completed content
// frame, or empty when no node completed.
func (s *BufferSink) FinalResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		data, ok := s.frames[i].Data.(ContentData)
		if ok && data.IsComplete {
			return data.FullResponse
		}
	}
	return ""
}

// Discard is a sink that drops everything. Useful when a caller has no
// client to stream to.
type Discard struct{}

func (Discard) Send(ctx context.Context, _ Frame) error {
	return ctx.Err()
}

var (
	_ Sink = (*ChannelSink)(nil)
	_ Sink = (*BufferSink)(nil)
	_ Sink = Discard{}
)
