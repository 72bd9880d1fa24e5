package capability

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bngesp/MultiCoder/internal/domain"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewAnalyzer())
	reg.Register(NewGenerator())

	c, err := reg.Get(domain.RoleAnalyze)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAnalyze, c.Role())
}

func TestRegistry_UnknownRole(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(domain.RoleVerify)

	var unknown *domain.UnknownRoleError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, domain.RoleVerify, unknown.Role)
}

func analysisFor(t *testing.T, prompt string) domain.AnalysisOutput {
	t.Helper()
	raw, err := NewAnalyzer().Invoke(context.Background(), domain.TaskInput{Prompt: prompt})
	require.NoError(t, err)
	var out domain.AnalysisOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAnalyzer_ReverseStringIntent(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"english", "write a function that reverses a string", "reverse-string"},
		{"french", "Crée une fonction Python qui inverse une chaîne", "reverse-string"},
		{"general", "sort a list of numbers", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, analysisFor(t, tt.prompt).Intent)
		})
	}
}

func TestAnalyzer_EmptyPrompt_Fails(t *testing.T) {
	_, err := NewAnalyzer().Invoke(context.Background(), domain.TaskInput{Prompt: "   "})
	require.Error(t, err)
}

func TestAnalyzer_LanguageDetection(t *testing.T) {
	assert.Equal(t, "python", analysisFor(t, "reverse a string").Language)
	assert.Equal(t, "go", analysisFor(t, "write a go http server").Language)
	assert.Equal(t, "javascript", analysisFor(t, "write a javascript debounce helper").Language)
}

func withAnalysis(t *testing.T, prompt string, analysis domain.AnalysisOutput) domain.TaskInput {
	t.Helper()
	raw, err := json.Marshal(analysis)
	require.NoError(t, err)
	return domain.TaskInput{
		Prompt: prompt,
		Deps:   map[domain.Role]json.RawMessage{domain.RoleAnalyze: raw},
	}
}

func TestGenerator_ReverseString(t *testing.T) {
	input := withAnalysis(t, "write a function that reverses a string",
		domain.AnalysisOutput{Intent: "reverse-string", Language: "python"})

	raw, err := NewGenerator().Invoke(context.Background(), input)
	require.NoError(t, err)

	var out domain.GenerationOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Contains(t, out.Code, "def reverse_string")
	assert.Equal(t, "python", out.Language)
}

func TestGenerator_FallbackWithoutAnalysis(t *testing.T) {
	raw, err := NewGenerator().Invoke(context.Background(),
		domain.TaskInput{Prompt: "do something unusual"})
	require.NoError(t, err)

	var out domain.GenerationOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Contains(t, out.Code, "def process_data")
}

func withCode(code string) domain.TaskInput {
	raw, _ := json.Marshal(domain.GenerationOutput{Code: code, Language: "python"})
	return domain.TaskInput{
		Prompt: "prompt",
		Deps:   map[domain.Role]json.RawMessage{domain.RoleGenerate: raw},
	}
}

func TestVerifier_CleanCodePasses(t *testing.T) {
	raw, err := NewVerifier().Invoke(context.Background(), withCode(reverseStringCode))
	require.NoError(t, err)

	var report domain.VerificationReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.True(t, report.Pass)
	assert.Empty(t, report.Findings)
}

func TestVerifier_Findings(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"long line", "def f():\n    \"\"\"doc\"\"\"\n    x = \"" + strings.Repeat("x", 90) + "\"\n", "too long"},
		{"wildcard import", "from os import *\n", "wildcard imports"},
		{"missing docstring", "def f():\n    return 1\n", "missing a docstring"},
		{"unbalanced brackets", "def f(:\n    \"\"\"doc\"\"\"\n    return (1\n", "unbalanced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := NewVerifier().Invoke(context.Background(), withCode(tt.code))
			require.NoError(t, err)

			var report domain.VerificationReport
			require.NoError(t, json.Unmarshal(raw, &report))
			assert.False(t, report.Pass)

			found := false
			for _, f := range report.Findings {
				if strings.Contains(f, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "findings %v should mention %q", report.Findings, tt.want)
		})
	}
}

func TestVerifier_MissingCode_Fails(t *testing.T) {
	_, err := NewVerifier().Invoke(context.Background(), domain.TaskInput{Prompt: "p"})
	require.Error(t, err, "deterministic failure, not a timeout")
}

func TestDocumenter_ProducesText(t *testing.T) {
	raw, err := NewDocumenter().Invoke(context.Background(), withCode(reverseStringCode))
	require.NoError(t, err)

	var out domain.DocumentationOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotEmpty(t, out.Documentation)
	assert.Contains(t, out.Documentation, "reverse_string")
}

// fakeBackend returns canned text for LLMCapability tests.
type fakeBackend struct {
	text string
	err  error
}

func (b *fakeBackend) Generate(context.Context, string, string) (string, error) {
	return b.text, b.err
}

func TestLLMCapability_VerifyShaping(t *testing.T) {
	pass, err := NewLLMCapability(domain.RoleVerify, &fakeBackend{text: "PASS"})
	require.NoError(t, err)

	raw, err := pass.Invoke(context.Background(), withCode("def f(): ..."))
	require.NoError(t, err)
	var report domain.VerificationReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.True(t, report.Pass)

	fail, _ := NewLLMCapability(domain.RoleVerify, &fakeBackend{text: "missing tests\nno error handling"})
	raw, err = fail.Invoke(context.Background(), withCode("def f(): ..."))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.False(t, report.Pass)
	assert.Len(t, report.Findings, 2)
}

func TestLLMCapability_GenerateShaping(t *testing.T) {
	c, err := NewLLMCapability(domain.RoleGenerate, &fakeBackend{text: "def g():\n    return 2\n"})
	require.NoError(t, err)

	raw, err := c.Invoke(context.Background(), domain.TaskInput{Prompt: "write g"})
	require.NoError(t, err)
	var out domain.GenerationOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Contains(t, out.Code, "def g()")
}

func TestLLMCapability_InvalidRole(t *testing.T) {
	_, err := NewLLMCapability(domain.Role("compile"), &fakeBackend{})
	require.Error(t, err)
}
