package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pollon-ai/pollon-go/internal/budget"
)

// defaultSystemPrompt frames the model as a classroom assistant. Answers feed
// the question cache, so they must stand alone when replayed to a different
// student later.
const defaultSystemPrompt = `You are Pollon, a friendly classroom assistant.
Answer the student's question clearly and accurately, at a level appropriate
for a classroom. Keep answers self-contained: do not refer to earlier parts
of this conversation in a way that would confuse a reader who only sees the
question and your answer.`

// Role identifies who produced a transcript entry.
type Role string

const (
	// RoleStudent marks a message typed by the student.
	RoleStudent Role = "student"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Turn is one visible transcript entry. The session layer passes the full
// visible history so the model can resolve pronouns in follow-up questions.
type Turn struct {
	// Role identifies the speaker.
	Role Role
	// Content is the message text as shown in the chat.
	Content string
}

// Generator produces an answer for a student question from the visible
// conversation transcript. It wraps a ChatModel and owns prompt assembly
// and history trimming; it holds no per-session state and is safe for
// concurrent use.
type Generator struct {
	// model is the backing chat model.
	model model.ToolCallingChatModel
	// systemPrompt frames every request.
	systemPrompt string
	// maxContextTokens bounds the assembled input.
	maxContextTokens int
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) GeneratorOption {
	return func(g *Generator) { g.systemPrompt = prompt }
}

// WithMaxContextTokens overrides the input token budget.
func WithMaxContextTokens(n int) GeneratorOption {
	return func(g *Generator) { g.maxContextTokens = n }
}

// NewGenerator wraps m. m must be non-nil.
func NewGenerator(m model.ToolCallingChatModel, opts ...GeneratorOption) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("provider: generator requires a chat model")
	}
	g := &Generator{
		model:            m,
		systemPrompt:     defaultSystemPrompt,
		maxContextTokens: budget.DefaultMaxContextTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Complete generates an answer for question given the prior visible
// transcript. Older transcript entries are dropped first when the input
// exceeds the token budget; the system prompt and the question itself are
// never dropped.
func (g *Generator) Complete(ctx context.Context, transcript []Turn, question string) (string, error) {
	fixed := []*schema.Message{
		schema.SystemMessage(g.systemPrompt),
		schema.UserMessage(question),
	}

	history := make([]*schema.Message, 0, len(transcript))
	for _, t := range transcript {
		switch t.Role {
		case RoleAssistant:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		default:
			history = append(history, schema.UserMessage(t.Content))
		}
	}
	history = budget.TrimHistory(fixed, history, g.maxContextTokens)

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, fixed[0])
	msgs = append(msgs, history...)
	msgs = append(msgs, fixed[1])

	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("provider: generate answer: %w", err)
	}
	answer := strings.TrimSpace(out.Content)
	if answer == "" {
		return "", fmt.Errorf("provider: model returned an empty answer")
	}
	return answer, nil
}
