package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bngesp/MultiCoder/internal/domain"
)

const reverseStringCode = `def reverse_string(s: str) -> str:
    """Reverse a string without using the slice operator.

    Args:
        s: The input string to reverse.

    Returns:
        The reversed string.
    """
    result = ""
    for char in s:
        result = char + result
    return result
`

const fallbackCode = `def process_data(data):
    """Process the provided data.

    Args:
        data: The input data to process.

    Returns:
        The processed result.
    """
    result = data
    return result
`

// Generator produces code from the prompt and the analyzer's intent. A
// pattern-matched template generator; an LLMCapability registered for the
// generate role replaces it when a model backend is configured.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Role() domain.Role { return domain.RoleGenerate }

func (g *Generator) Invoke(_ context.Context, input domain.TaskInput) (json.RawMessage, error) {
	if input.Prompt == "" {
		return nil, errors.New("generate: empty prompt")
	}

	// The analyzer's intent drives template selection; fall back to matching
	// the raw prompt when the dependency payload is missing fields.
	var analysis domain.AnalysisOutput
	if _, err := depOutput(input, domain.RoleAnalyze, &analysis); err != nil {
		return nil, fmt.Errorf("generate: bad analysis payload: %w", err)
	}

	intent := analysis.Intent
	if intent == "" {
		intent = classifyIntent(input.Prompt)
	}
	language := analysis.Language
	if language == "" {
		language = "python"
	}

	out := domain.GenerationOutput{Language: language}
	switch intent {
	case "reverse-string":
		out.Code = reverseStringCode
	default:
		out.Code = fallbackCode
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal generation: %w", err)
	}
	return data, nil
}
