package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// Documenter writes usage documentation for generated code.
type Documenter struct{}

// NewDocumenter creates a Documenter.
func NewDocumenter() *Documenter { return &Documenter{} }

func (d *Documenter) Role() domain.Role { return domain.RoleDocument }

func (d *Documenter) Invoke(_ context.Context, input domain.TaskInput) (json.RawMessage, error) {
	var gen domain.GenerationOutput
	ok, err := depOutput(input, domain.RoleGenerate, &gen)
	if err != nil {
		return nil, fmt.Errorf("document: bad generation payload: %w", err)
	}
	if !ok || gen.Code == "" {
		return nil, errors.New("document: missing generated code")
	}

	out := domain.DocumentationOutput{Documentation: describe(input.Prompt, gen)}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal documentation: %w", err)
	}
	return data, nil
}

func describe(prompt string, gen domain.GenerationOutput) string {
	var b strings.Builder
	b.WriteString("## Generated code\n\n")
	if prompt != "" {
		fmt.Fprintf(&b, "Request: %s\n\n", strings.TrimSpace(prompt))
	}
	if gen.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n\n", gen.Language)
	}
	if fns := functionNames(gen.Code); len(fns) > 0 {
		b.WriteString("Defined functions:\n")
		for _, fn := range fns {
			fmt.Fprintf(&b, "- `%s`\n", fn)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The snippet is %d lines long.\n", strings.Count(gen.Code, "\n")+1)
	return b.String()
}

func functionNames(code string) []string {
	var names []string
	for _, line := range strings.Split(code, "\n") {
		if m := defLine.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}
