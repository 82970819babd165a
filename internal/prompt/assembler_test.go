package prompt

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/tools"
)

type fakeReader struct {
	files map[string]string
	reads int
}

func (f *fakeReader) ReadFile(path string) (string, error) {
	f.reads++
	return f.files[path], nil
}

func TestAssembleOrderAndSeparator(t *testing.T) {
	reader := &fakeReader{files: map[string]string{
		"identity.md": "You are Nova.",
		"soul.md":     "Be concise.",
	}}
	a := New(reader)

	result := a.Assemble(Agent{
		ID:               "agent-1",
		IdentityFilePath: "identity.md",
		SoulFilePath:     "soul.md",
		Instructions:     "Focus on billing questions.",
	}, nil, []Goal{{Description: "close the sprint"}}, Flags{IncludeGoals: true})

	want := []string{"identity", "soul", "agent_instructions", "goals", "time_context"}
	if strings.Join(result.SectionNames, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected section order: %v", result.SectionNames)
	}
	if !strings.Contains(result.Prompt, "\n\n---\n\n") {
		t.Fatalf("expected sections joined by separator, got %q", result.Prompt)
	}
	if result.CharCount != len([]rune(result.Prompt)) {
		t.Fatalf("char count mismatch")
	}
}

func TestAssembleOverrideSkipsEverything(t *testing.T) {
	a := New(&fakeReader{})
	result := a.Assemble(Agent{ID: "agent-1"}, nil, nil, Flags{Override: "just this"})
	if result.Prompt != "just this" {
		t.Fatalf("expected override prompt, got %q", result.Prompt)
	}
	if len(result.SectionNames) != 1 || result.SectionNames[0] != "override" {
		t.Fatalf("expected override-only section list, got %v", result.SectionNames)
	}
}

func TestAssembleCachesStaticAssembly(t *testing.T) {
	reader := &fakeReader{files: map[string]string{"identity.md": "id"}}
	a := New(reader)
	agent := Agent{ID: "agent-1", IdentityFilePath: "identity.md"}

	first := a.Assemble(agent, nil, nil, Flags{})
	if first.Cached {
		t.Fatal("first assembly should not be marked cached")
	}
	second := a.Assemble(agent, nil, nil, Flags{})
	if !second.Cached {
		t.Fatal("second assembly with identical flags should be cached")
	}
	if second.Prompt != first.Prompt {
		t.Fatalf("cached prompt mismatch")
	}
}

func TestAssembleWithToolsBypassesAssemblyCache(t *testing.T) {
	a := New(&fakeReader{})
	agent := Agent{ID: "agent-1"}
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ticket_id": map[string]any{"type": "string"},
		},
		"required": []string{"ticket_id"},
	})
	defs := []tools.Definition{{QualifiedName: "support__lookup", Description: "Look up a ticket", Schema: schema}}

	result := a.Assemble(agent, defs, nil, Flags{IncludeTools: true})
	if result.Cached {
		t.Fatal("dynamic assembly must never be marked cached")
	}
	if !strings.Contains(result.Prompt, "support__lookup") {
		t.Fatalf("expected tool section in prompt, got %q", result.Prompt)
	}
	if !strings.Contains(result.Prompt, "| ticket_id | string | yes |") {
		t.Fatalf("expected rendered parameter row, got %q", result.Prompt)
	}
}

func TestFileCacheRespectsTTL(t *testing.T) {
	reader := &fakeReader{files: map[string]string{"identity.md": "v1"}}
	a := New(reader)
	fakeNow := time.Now()
	a.now = func() time.Time { return fakeNow }

	agent := Agent{ID: "agent-1", IdentityFilePath: "identity.md"}
	a.Assemble(agent, nil, nil, Flags{IncludeGoals: true, IncludeTools: true})
	if reader.reads != 1 {
		t.Fatalf("expected one file read, got %d", reader.reads)
	}

	a.Assemble(agent, nil, nil, Flags{IncludeGoals: true, IncludeTools: true})
	if reader.reads != 1 {
		t.Fatalf("expected cached read within TTL, got %d reads", reader.reads)
	}

	fakeNow = fakeNow.Add(FileTTL + time.Second)
	a.Assemble(agent, nil, nil, Flags{IncludeGoals: true, IncludeTools: true})
	if reader.reads != 2 {
		t.Fatalf("expected re-read after TTL expiry, got %d reads", reader.reads)
	}
}
