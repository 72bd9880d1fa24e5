package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// reversePattern matches reverse-a-string prompts in English and French
// ("inverse une chaîne").
var reversePattern = regexp.MustCompile(`(?i)(revers\w*|inverse\w*)\s+.*\b(string|cha[îi]ne)`)

// Analyzer extracts intent, target language, and keywords from the raw
// prompt. It is a heuristic stand-in for an NLP backend; swap in an
// LLMCapability for the analyze role to upgrade it.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Role() domain.Role { return domain.RoleAnalyze }

func (a *Analyzer) Invoke(_ context.Context, input domain.TaskInput) (json.RawMessage, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, errors.New("analyze: empty prompt")
	}

	out := domain.AnalysisOutput{
		Intent:   classifyIntent(prompt),
		Language: detectLanguage(prompt),
		Keywords: extractKeywords(prompt),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	return data, nil
}

func classifyIntent(prompt string) string {
	if reversePattern.MatchString(prompt) {
		return "reverse-string"
	}
	return "general"
}

func detectLanguage(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "golang") || regexp.MustCompile(`\bgo\b`).MatchString(lower):
		return "go"
	case strings.Contains(lower, "javascript") || strings.Contains(lower, "typescript"):
		return "javascript"
	default:
		return "python"
	}
}

func extractKeywords(prompt string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) > 4 {
			keywords = append(keywords, word)
		}
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}
