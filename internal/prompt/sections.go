package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conclave-run/conclave/internal/tools"
)

// schemaProperty is the subset of a JSON Schema property object the tool
// description renderer needs.
type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type objectSchema struct {
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

// renderTools renders the tool-description section: for each
// executable tool, its qualified name, description, and a parameter table
// with type and required-marker.
func renderTools(defs []tools.Definition) string {
	sorted := make([]tools.Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].QualifiedName < sorted[j].QualifiedName })

	var b strings.Builder
	b.WriteString("Available tools:\n\n")
	for _, d := range sorted {
		fmt.Fprintf(&b, "### %s\n%s\n\n", d.QualifiedName, d.Description)

		var schema objectSchema
		if len(d.Schema) > 0 {
			_ = json.Unmarshal(d.Schema, &schema)
		}
		if len(schema.Properties) == 0 {
			continue
		}

		required := make(map[string]bool, len(schema.Required))
		for _, r := range schema.Required {
			required[r] = true
		}

		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("| parameter | type | required |\n|---|---|---|\n")
		for _, name := range names {
			prop := schema.Properties[name]
			marker := ""
			if required[name] {
				marker = "yes"
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", name, prop.Type, marker)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
