package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicModel adapts the Anthropic streaming API to the Model contract.
type AnthropicModel struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicModel wraps an existing Anthropic client.
func NewAnthropicModel(client *anthropic.Client, model string) *AnthropicModel {
	return &AnthropicModel{client: client, model: model}
}

// Name implements Model.
func (m *AnthropicModel) Name() string {
	return m.model
}

// StreamChat implements Model.
func (m *AnthropicModel) StreamChat(ctx context.Context, req Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	model := req.Model
	if model == "" {
		model = m.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{stream: stream}, nil
}

// anthropicStream converts SSE events into uniform chunks.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]

	// toolIDs maps content block index to the tool call id so that
	// input_json deltas can be attributed to the right call.
	toolIDs map[int]string
}

// Recv implements Stream.
func (s *anthropicStream) Recv() (*Chunk, error) {
	if s.toolIDs == nil {
		s.toolIDs = make(map[int]string)
	}

	for s.stream.Next() {
		event := s.stream.Current()
		chunk := s.convertEvent(event)
		if chunk != nil {
			return chunk, nil
		}
	}

	if err := s.stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return nil, io.EOF
}

func (s *anthropicStream) convertEvent(event anthropic.MessageStreamEventUnion) *Chunk {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch content := e.ContentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			if content.Text == "" {
				return nil
			}
			return &Chunk{TextDelta: content.Text}
		case anthropic.ToolUseBlock:
			s.toolIDs[int(e.Index)] = content.ID
			return &Chunk{ToolCallDeltas: []ToolCallDelta{{
				ID:   content.ID,
				Name: content.Name,
			}}}
		}

	case anthropic.ContentBlockDeltaEvent:
		switch delta := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return &Chunk{TextDelta: delta.Text}
		case anthropic.InputJSONDelta:
			id, ok := s.toolIDs[int(e.Index)]
			if !ok {
				return nil
			}
			return &Chunk{ToolCallDeltas: []ToolCallDelta{{
				ID:             id,
				ArgumentsDelta: delta.PartialJSON,
			}}}
		}
	}

	// Message start/stop and usage events carry no content.
	return nil
}

func convertMessages(messages []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case RoleAssistant:
			if msg.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil || input == nil {
					// The API requires a dictionary, not null.
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case RoleTool:
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Output, tr.IsError))
			}
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})

		default:
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})
		}
	}

	return params
}

func convertTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))

	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", spec.Name, err)
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: schema,
			},
		})
	}

	return tools, nil
}
