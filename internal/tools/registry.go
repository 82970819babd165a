package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Registry is the Tool Registry: a read-mostly, process-wide index of
// discovered tool definitions, built once at startup from a list of skill
// manifests. Execute calls run concurrently without mutual exclusion —
// concurrency shaping happens in the Executor, not here.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Discover walks skill manifests, registering one Definition per advertised
// tool. handlers maps a qualified name to its bound callable; a manifest
// entry with no matching handler is still registered, with Handler left
// nil, so execution against it fails with a well-formed ToolFailure rather
// than an "unknown tool" error — the skill exists, it just can't run.
func (r *Registry) Discover(manifests []Manifest, handlers map[string]Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range manifests {
		for _, entry := range m.Tools {
			qualified := QualifiedName(m.Skill, entry.Method)
			r.tools[qualified] = &Definition{
				QualifiedName: qualified,
				SkillSlug:     m.Skill,
				Method:        entry.Method,
				Description:   entry.Description,
				Schema:        entry.Parameters,
				Handler:       handlers[qualified],
			}
		}
	}
}

// QualifiedName forms the registry key a manifest's (skill, method) pair
// resolves to.
func QualifiedName(skill, method string) string {
	return skill + "__" + method
}

// Register adds or replaces a single tool definition directly, for
// programmatically-defined tools that don't arrive via manifest discovery.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.QualifiedName] = def
}

// Get returns the definition for a qualified tool name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Schema exports the provider tool-calling schema, optionally filtered to
// tools owned by the given skills. A nil/empty skills filter returns every
// registered tool, sorted by qualified name for deterministic ordering.
func (r *Registry) Schema(skills ...string) []FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allow := make(map[string]bool, len(skills))
	for _, s := range skills {
		allow[s] = true
	}

	out := make([]FunctionSchema, 0, len(r.tools))
	for _, d := range r.tools {
		if len(allow) > 0 && !allow[d.SkillSlug] {
			continue
		}
		params := d.Schema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, FunctionSchema{
			Type: "function",
			Function: FunctionDefinition{
				Name:        d.QualifiedName,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}

// List returns every registered definition, sorted by qualified name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// fmtUnknown formats the unknown-tool error body the Executor returns
// verbatim as a failed Result's Content.
func fmtUnknown(name string) string {
	return fmt.Sprintf(`{"error": "Unknown tool: %s"}`, name)
}
