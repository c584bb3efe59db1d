// Package memory keeps agent conversations inside a character budget by
// summarizing older messages with the model and pinning the summaries.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/orangyan/JManus-sub000/llm"
	"github.com/orangyan/JManus-sub000/streaming"
)

// Logger is the logging surface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const summaryPrompt = `Summarize the conversation so far for an agent that will continue working on the task. Keep every fact, decision, file path, identifier and unresolved question that the agent still needs. Respond with the summary only.`

// Service compresses conversation histories. Budget is measured in
// characters, a model-independent proxy for tokens.
type Service struct {
	model         llm.Model
	budget        int
	preserveLastN int
	logger        Logger
}

// NewService creates a memory service. budget is the character ceiling
// above which EnsureBudget summarizes; preserveLastN is how many trailing
// messages ForceCompress keeps.
func NewService(model llm.Model, budget, preserveLastN int, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		model:         model,
		budget:        budget,
		preserveLastN: preserveLastN,
		logger:        logger,
	}
}

// TotalChars sums the character counts of all messages.
func TotalChars(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += m.CharCount()
	}
	return total
}

// EnsureBudget returns msgs unchanged while they fit the budget. Above it
// the older prefix is summarized into a single pinned message and only a
// recent suffix is kept verbatim. Summarization failures are logged and
// the history is returned uncompressed; the agent keeps running.
func (s *Service) EnsureBudget(ctx context.Context, msgs []llm.Message) []llm.Message {
	before := TotalChars(msgs)
	if before <= s.budget {
		return msgs
	}

	pinned, rest := partitionPinned(msgs)
	suffix := recentSuffix(rest, s.budget/2)
	prefix := rest[:len(rest)-len(suffix)]
	if len(prefix) == 0 {
		// Nothing left to fold; the suffix alone blows the budget.
		return msgs
	}

	summary, err := s.summarize(ctx, pinned, prefix)
	if err != nil {
		s.logger.Warn("conversation summarization failed, keeping full history",
			"chars", before,
			"error", err,
		)
		return msgs
	}

	out := make([]llm.Message, 0, len(pinned)+1+len(suffix))
	out = append(out, pinned...)
	out = append(out, summary)
	out = append(out, suffix...)

	s.logger.Info("conversation compressed",
		"before_chars", before,
		"after_chars", TotalChars(out),
		"folded_messages", len(prefix),
	)
	return out
}

// ForceCompress drops everything except pinned summaries and the last
// preserveLastN messages. It makes no model call; it is the escape hatch
// when the agent is looping on identical results.
func (s *Service) ForceCompress(msgs []llm.Message) []llm.Message {
	pinned, rest := partitionPinned(msgs)
	keep := s.preserveLastN
	if keep > len(rest) {
		keep = len(rest)
	}
	out := make([]llm.Message, 0, len(pinned)+keep)
	out = append(out, pinned...)
	out = append(out, rest[len(rest)-keep:]...)
	return out
}

// summarize folds prior pinned summaries and the prefix into one new
// pinned summary message.
func (s *Service) summarize(ctx context.Context, pinned, prefix []llm.Message) (llm.Message, error) {
	var b strings.Builder
	for _, m := range pinned {
		b.WriteString(m.Text)
		b.WriteString("\n\n")
	}
	for _, m := range prefix {
		b.WriteString(renderMessage(m))
		b.WriteString("\n")
	}

	req := llm.Request{
		Model:  s.model.Name(),
		System: summaryPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: b.String()},
		},
	}
	stream, err := s.model.StreamChat(ctx, req)
	if err != nil {
		return llm.Message{}, fmt.Errorf("memory: summarize: %w", err)
	}
	result := streaming.Aggregate(req.Messages, stream)
	if result.Err != nil {
		return llm.Message{}, fmt.Errorf("memory: summarize: %w", result.Err)
	}
	if result.Text == "" {
		return llm.Message{}, fmt.Errorf("memory: summarize: model returned no text")
	}

	return llm.Message{
		Role:     llm.RoleUser,
		Text:     "Summary of earlier conversation:\n" + result.Text,
		Metadata: map[string]any{llm.MetadataPreserved: true},
	}, nil
}

// partitionPinned splits msgs into pinned summaries and the rest, both
// in original order.
func partitionPinned(msgs []llm.Message) (pinned, rest []llm.Message) {
	for _, m := range msgs {
		if m.IsPreserved() {
			pinned = append(pinned, m)
		} else {
			rest = append(rest, m)
		}
	}
	return pinned, rest
}

// recentSuffix returns the longest trailing run of msgs whose combined
// size stays under maxChars. At least one message is kept so the model
// always sees the latest exchange.
func recentSuffix(msgs []llm.Message, maxChars int) []llm.Message {
	if len(msgs) == 0 {
		return nil
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += msgs[i].CharCount()
		if total > maxChars && start < len(msgs) {
			break
		}
		start = i
	}
	return msgs[start:]
}

// renderMessage flattens a message, including tool activity, into text
// for the summarizer.
func renderMessage(m llm.Message) string {
	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteString(": ")
	b.WriteString(m.Text)
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(&b, "\n[called %s with %s]", tc.Name, tc.Arguments)
	}
	for _, tr := range m.ToolResults {
		fmt.Fprintf(&b, "\n[tool result: %s]", tr.Output)
	}
	return b.String()
}
