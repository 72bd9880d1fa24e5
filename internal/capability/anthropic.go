package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bngesp/MultiCoder/internal/domain"
	"github.com/bngesp/MultiCoder/pkg/retry"
)

// ModelBackend produces text for a prompt. It is the opaque AI capability
// behind the LLM-backed roles: latency and failure are modelled, internals
// are not.
type ModelBackend interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicBackend creates a backend for the given API key and model.
// An empty model selects a default.
func NewAnthropicBackend(apiKey string, model string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic backend requires an API key")
	}
	m := anthropic.Model(model)
	if m == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

// Generate executes the prompt and returns the concatenated text blocks.
// Transient API errors are retried twice with backoff.
func (b *AnthropicBackend) Generate(ctx context.Context, system, prompt string) (string, error) {
	var text string
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}, func() error {
		params := anthropic.MessageNewParams{
			Model:     b.model,
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		resp, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("messages.new: %w", err)
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(variant.Text)
			}
		}
		text = sb.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// LLMCapability adapts a ModelBackend to any role by prompting it with a
// role template and shaping the reply into that role's output payload.
type LLMCapability struct {
	role    domain.Role
	backend ModelBackend
}

// NewLLMCapability wraps a backend for one role.
func NewLLMCapability(role domain.Role, backend ModelBackend) (*LLMCapability, error) {
	if !role.Valid() {
		return nil, &domain.UnknownRoleError{Role: role}
	}
	return &LLMCapability{role: role, backend: backend}, nil
}

func (c *LLMCapability) Role() domain.Role { return c.role }

func (c *LLMCapability) Invoke(ctx context.Context, input domain.TaskInput) (json.RawMessage, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, fmt.Errorf("%s: empty prompt", c.role)
	}

	text, err := c.backend.Generate(ctx, systemPrompt(c.role), userPrompt(c.role, input))
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", c.role, err)
	}

	out, err := shapeOutput(c.role, input, text)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func systemPrompt(role domain.Role) string {
	switch role {
	case domain.RoleAnalyze:
		return "You classify development requests. Reply with a one-line intent label only."
	case domain.RoleGenerate:
		return "You write code. Reply with the code only, no prose, no fences."
	case domain.RoleVerify:
		return "You review code. Reply PASS on the first line if acceptable; otherwise list one finding per line."
	case domain.RoleDocument:
		return "You document code. Reply with concise usage documentation in markdown."
	}
	return ""
}

func userPrompt(role domain.Role, input domain.TaskInput) string {
	var b strings.Builder
	b.WriteString(input.Prompt)
	if raw, ok := input.Deps[domain.RoleGenerate]; ok && (role == domain.RoleVerify || role == domain.RoleDocument) {
		var gen domain.GenerationOutput
		if json.Unmarshal(raw, &gen) == nil && gen.Code != "" {
			b.WriteString("\n\nCode:\n")
			b.WriteString(gen.Code)
		}
	}
	return b.String()
}

// shapeOutput converts the model's free text into the role's structured
// output payload.
func shapeOutput(role domain.Role, input domain.TaskInput, text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%s: model returned no text", role)
	}

	var out any
	switch role {
	case domain.RoleAnalyze:
		intent, _, _ := strings.Cut(text, "\n")
		out = domain.AnalysisOutput{
			Intent:   strings.TrimSpace(intent),
			Language: detectLanguage(input.Prompt),
			Keywords: extractKeywords(input.Prompt),
		}
	case domain.RoleGenerate:
		out = domain.GenerationOutput{Code: text, Language: detectLanguage(input.Prompt)}
	case domain.RoleVerify:
		first, rest, _ := strings.Cut(text, "\n")
		if strings.HasPrefix(strings.ToUpper(first), "PASS") {
			out = domain.VerificationReport{Pass: true}
		} else {
			var findings []string
			for _, line := range strings.Split(first+"\n"+rest, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					findings = append(findings, line)
				}
			}
			out = domain.VerificationReport{Pass: false, Findings: findings}
		}
	case domain.RoleDocument:
		out = domain.DocumentationOutput{Documentation: text}
	default:
		return nil, &domain.UnknownRoleError{Role: role}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal %s output: %w", role, err)
	}
	return data, nil
}
