package prompt_test

import (
	"testing"

	"github.com/conclave-run/conclave/internal/prompt"
	"github.com/conclave-run/conclave/internal/testharness"
)

// fixedReader serves canned identity/soul content for snapshot testing.
type fixedReader struct{ files map[string]string }

func (f fixedReader) ReadFile(path string) (string, error) { return f.files[path], nil }

func TestAssembleGoldenSnapshot(t *testing.T) {
	a := prompt.New(fixedReader{files: map[string]string{
		"identity.md": "You are Conclave, a precise and patient assistant.",
		"soul.md":     "Be direct. Never pad an answer with filler.",
	}})

	result := a.Assemble(prompt.Agent{
		ID:               "agent-main",
		IdentityFilePath: "identity.md",
		SoulFilePath:     "soul.md",
		Instructions:     "Prioritize billing and renewal questions.",
	}, nil, []prompt.Goal{{Description: "clear the support backlog by Friday"}}, prompt.Flags{IncludeGoals: true})

	g := testharness.NewGoldenAt(t, "testdata/golden")
	g.AssertNamed("sections", joinSections(result.SectionNames))
}

func joinSections(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out + "\n"
}
