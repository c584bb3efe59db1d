package manus

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/orangyan/JManus-sub000/llm"
)

// scriptedModel replays canned responses in order. When the script runs
// out it keeps answering with a terminate call so tests never hang.
type scriptedModel struct {
	name string

	mu        sync.Mutex
	responses []scriptedResponse
	requests  []llm.Request
}

type scriptedResponse struct {
	chunks  []llm.Chunk
	openErr error
}

func newScriptedModel(responses ...scriptedResponse) *scriptedModel {
	return &scriptedModel{name: "scripted-model", responses: responses}
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) StreamChat(_ context.Context, req llm.Request) (llm.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		return &chunkStream{chunks: terminateChunks("out of script")}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.openErr != nil {
		return nil, next.openErr
	}
	return &chunkStream{chunks: next.chunks}, nil
}

func (m *scriptedModel) recordedRequests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

type chunkStream struct {
	chunks []llm.Chunk
	pos    int
}

func (s *chunkStream) Recv() (*llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return &c, nil
}

// textResponse is a text-only model turn.
func textResponse(text string) scriptedResponse {
	return scriptedResponse{chunks: []llm.Chunk{{TextDelta: text}}}
}

// toolResponse is a model turn requesting the given tool calls.
func toolResponse(calls ...llm.ToolCall) scriptedResponse {
	var chunks []llm.Chunk
	for _, call := range calls {
		chunks = append(chunks, llm.Chunk{ToolCallDeltas: []llm.ToolCallDelta{{
			ID:             call.ID,
			Name:           call.Name,
			ArgumentsDelta: call.Arguments,
		}}})
	}
	return scriptedResponse{chunks: chunks}
}

func terminateChunks(message string) []llm.Chunk {
	return []llm.Chunk{{ToolCallDeltas: []llm.ToolCallDelta{{
		ID:             "call-terminate",
		Name:           "system-terminate",
		ArgumentsDelta: fmt.Sprintf(`{"message": %q}`, message),
	}}}}
}

func terminateResponse(message string) scriptedResponse {
	return scriptedResponse{chunks: terminateChunks(message)}
}
