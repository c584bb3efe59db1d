// Package streaming merges a streamed model response into a single result.
//
// Tool-call arguments may arrive split across many chunks; the tool call id
// establishes identity and later fragments with the same id are appended to
// the arguments accumulated so far.
package streaming

import (
	"io"
	"strings"

	"github.com/orangyan/JManus-sub000/llm"
)

// Result is the fully aggregated model response.
type Result struct {
	// Text is the merged assistant text.
	Text string

	// ToolCalls are the merged tool invocations in first-seen order.
	ToolCalls []llm.ToolCall

	// InputCharCount is the serialized length of the request messages.
	InputCharCount int

	// OutputCharCount is the length of the merged text plus tool arguments.
	OutputCharCount int

	// EarlyTerminated is set when the response carries non-empty text and
	// zero tool calls: the model thought without acting.
	EarlyTerminated bool

	// Err is the stream error, if any. The fields above still hold
	// whatever was aggregated before the failure.
	Err error
}

// toolCallBuilder accumulates one tool call across chunks.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// Aggregator consumes chunks and builds a Result.
type Aggregator struct {
	text    strings.Builder
	calls   map[string]*toolCallBuilder
	order   []string
	inChars int
}

// NewAggregator creates an empty aggregator. The input messages are used
// only to compute the request character count.
func NewAggregator(input []llm.Message) *Aggregator {
	a := &Aggregator{calls: make(map[string]*toolCallBuilder)}
	for i := range input {
		a.inChars += input[i].CharCount()
	}
	return a
}

// Process merges one chunk into the aggregate.
func (a *Aggregator) Process(chunk *llm.Chunk) {
	if chunk == nil {
		return
	}

	a.text.WriteString(chunk.TextDelta)

	for _, delta := range chunk.ToolCallDeltas {
		if delta.ID == "" {
			continue
		}
		call, ok := a.calls[delta.ID]
		if !ok {
			call = &toolCallBuilder{id: delta.ID}
			a.calls[delta.ID] = call
			a.order = append(a.order, delta.ID)
		}
		if delta.Name != "" {
			call.name = delta.Name
		}
		call.args.WriteString(delta.ArgumentsDelta)
	}
}

// Result finalizes the aggregate.
func (a *Aggregator) Result() *Result {
	text := a.text.String()

	calls := make([]llm.ToolCall, 0, len(a.order))
	outChars := len(text)
	for _, id := range a.order {
		b := a.calls[id]
		args := b.args.String()
		if args == "" {
			args = "{}"
		}
		outChars += len(b.name) + len(args)
		calls = append(calls, llm.ToolCall{ID: b.id, Name: b.name, Arguments: args})
	}

	return &Result{
		Text:            text,
		ToolCalls:       calls,
		InputCharCount:  a.inChars,
		OutputCharCount: outChars,
		EarlyTerminated: text != "" && len(calls) == 0,
	}
}

// Aggregate drains the stream and returns the merged result. The whole
// stream is consumed before returning; on a stream error the partial
// aggregate is returned with Err set.
func Aggregate(input []llm.Message, stream llm.Stream) *Result {
	a := NewAggregator(input)

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			result := a.Result()
			result.Err = err
			return result
		}
		a.Process(chunk)
	}

	return a.Result()
}
