package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/orangyan/JManus-sub000/llm"
)

// fixedModel answers every request with the same text.
type fixedModel struct {
	text  string
	err   error
	calls int
}

func (m *fixedModel) Name() string { return "fixed-model" }

func (m *fixedModel) StreamChat(context.Context, llm.Request) (llm.Stream, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &textStream{text: m.text}, nil
}

type textStream struct {
	text string
	done bool
}

func (s *textStream) Recv() (*llm.Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return &llm.Chunk{TextDelta: s.text}, nil
}

func userMsg(text string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Text: text}
}

func pinnedMsg(text string) llm.Message {
	return llm.Message{
		Role:     llm.RoleUser,
		Text:     text,
		Metadata: map[string]any{llm.MetadataPreserved: true},
	}
}

func TestEnsureBudgetUnderBudgetUnchanged(t *testing.T) {
	model := &fixedModel{text: "summary"}
	svc := NewService(model, 1000, 4, nil)

	msgs := []llm.Message{userMsg("short"), userMsg("also short")}
	out := svc.EnsureBudget(context.Background(), msgs)

	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2 unchanged", len(out))
	}
	if model.calls != 0 {
		t.Fatal("no model call expected under budget")
	}
}

func TestEnsureBudgetSummarizesPrefix(t *testing.T) {
	model := &fixedModel{text: "the gist of it"}
	svc := NewService(model, 100, 4, nil)

	big := strings.Repeat("x", 40)
	msgs := []llm.Message{userMsg(big), userMsg(big), userMsg(big), userMsg("latest")}
	out := svc.EnsureBudget(context.Background(), msgs)

	if model.calls != 1 {
		t.Fatalf("model calls = %d, want 1", model.calls)
	}
	if TotalChars(out) >= TotalChars(msgs) {
		t.Fatalf("compression did not shrink history: %d -> %d", TotalChars(msgs), TotalChars(out))
	}

	var pinned *llm.Message
	for i := range out {
		if out[i].IsPreserved() {
			pinned = &out[i]
		}
	}
	if pinned == nil {
		t.Fatal("summary message not pinned")
	}
	if !strings.Contains(pinned.Text, "the gist of it") {
		t.Fatalf("pinned text = %q", pinned.Text)
	}
	if out[len(out)-1].Text != "latest" {
		t.Fatal("latest message must survive verbatim")
	}
}

func TestEnsureBudgetKeepsHistoryOnModelFailure(t *testing.T) {
	model := &fixedModel{err: errors.New("model down")}
	svc := NewService(model, 50, 4, nil)

	big := strings.Repeat("x", 40)
	msgs := []llm.Message{userMsg(big), userMsg(big), userMsg("tail")}
	out := svc.EnsureBudget(context.Background(), msgs)

	if len(out) != len(msgs) {
		t.Fatalf("history must be returned uncompressed on failure, got %d messages", len(out))
	}
}

func TestForceCompressKeepsPinnedAndTail(t *testing.T) {
	svc := NewService(&fixedModel{}, 1000, 2, nil)

	msgs := []llm.Message{
		pinnedMsg("summary 1"),
		userMsg("old 1"),
		userMsg("old 2"),
		userMsg("recent 1"),
		userMsg("recent 2"),
	}
	out := svc.ForceCompress(msgs)

	if len(out) != 3 {
		t.Fatalf("got %d messages, want pinned + last 2", len(out))
	}
	if !out[0].IsPreserved() || out[0].Text != "summary 1" {
		t.Fatalf("pinned summary lost: %+v", out[0])
	}
	if out[1].Text != "recent 1" || out[2].Text != "recent 2" {
		t.Fatalf("tail not preserved: %+v", out[1:])
	}
}

func TestForceCompressShortHistory(t *testing.T) {
	svc := NewService(&fixedModel{}, 1000, 4, nil)

	msgs := []llm.Message{userMsg("only one")}
	out := svc.ForceCompress(msgs)
	if len(out) != 1 || out[0].Text != "only one" {
		t.Fatalf("short history must pass through, got %+v", out)
	}
}
