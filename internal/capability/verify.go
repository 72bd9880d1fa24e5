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

const maxLineLength = 79

var (
	wildcardImport = regexp.MustCompile(`(?m)^\s*(from\s+\S+\s+)?import\s+\*`)
	defLine        = regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`)
)

// Verifier runs style and shape checks over generated code. Failing
// findings are data carried into the final artifact, not an orchestration
// failure — the verifier only errors when its input is malformed.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier { return &Verifier{} }

func (v *Verifier) Role() domain.Role { return domain.RoleVerify }

func (v *Verifier) Invoke(_ context.Context, input domain.TaskInput) (json.RawMessage, error) {
	var gen domain.GenerationOutput
	ok, err := depOutput(input, domain.RoleGenerate, &gen)
	if err != nil {
		return nil, fmt.Errorf("verify: bad generation payload: %w", err)
	}
	if !ok || gen.Code == "" {
		return nil, errors.New("verify: missing generated code")
	}

	report := domain.VerificationReport{Findings: checkCode(gen.Code)}
	report.Pass = len(report.Findings) == 0

	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal verification: %w", err)
	}
	return data, nil
}

func checkCode(code string) []string {
	var findings []string

	if n := bracketImbalance(code); n != 0 {
		findings = append(findings, "unbalanced brackets or parentheses")
	}

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if len(line) > maxLineLength {
			findings = append(findings,
				fmt.Sprintf("line %d is too long (%d > %d characters)", i+1, len(line), maxLineLength))
		}
	}

	if wildcardImport.MatchString(code) {
		findings = append(findings, "wildcard imports (import *) are discouraged")
	}

	findings = append(findings, missingDocstrings(lines)...)
	return findings
}

// bracketImbalance returns the net open-close delta across (), [] and {}.
// A cheap syntax-shape proxy; a zero result does not prove validity.
func bracketImbalance(code string) int {
	n := 0
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			n++
		case ')', ']', '}':
			n--
		}
	}
	return n
}

// missingDocstrings flags def lines whose body does not open with a
// docstring.
func missingDocstrings(lines []string) []string {
	var findings []string
	for i, line := range lines {
		m := defLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hasDoc := false
		for j := i + 1; j < len(lines); j++ {
			body := strings.TrimSpace(lines[j])
			if body == "" {
				continue
			}
			hasDoc = strings.HasPrefix(body, `"""`) || strings.HasPrefix(body, "'''")
			break
		}
		if !hasDoc {
			findings = append(findings, fmt.Sprintf("function %q is missing a docstring", m[1]))
		}
	}
	return findings
}
