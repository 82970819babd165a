// Package builtin provides the handful of tools the composition root
// always registers, independent of any skill manifest: a clock and a
// session-transcript search. Their parameter schemas are generated from Go
// structs via invopop/jsonschema rather than hand-written, per the
// registry's declared intent to source built-in tool schemas that way.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

var reflector = &jsonschema.Reflector{ExpandedStruct: true}

func schemaFor(v any) json.RawMessage {
	s := reflector.Reflect(v)
	b, err := json.Marshal(s)
	if err != nil {
		// Reflection over a local, non-cyclic struct cannot fail; this
		// would only trip if a future param type breaks that assumption.
		panic(fmt.Sprintf("builtin: reflect schema: %v", err))
	}
	return b
}

// CurrentTimeArgs is current_time's (empty) parameter struct.
type CurrentTimeArgs struct{}

// RecallArgs is sessions__recall's parameter struct.
type RecallArgs struct {
	Query string `json:"query" jsonschema:"required,description=Text to search for across session transcripts"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results to return (default 10)"`
}

// Definitions returns the always-registered built-in tools. store may be
// nil, in which case sessions__recall is omitted.
func Definitions(store sessions.Store) []*tools.Definition {
	defs := []*tools.Definition{
		{
			QualifiedName: tools.QualifiedName("system", "current_time"),
			SkillSlug:     "system",
			Method:        "current_time",
			Description:   "Return the current UTC time in RFC3339 form.",
			Schema:        schemaFor(CurrentTimeArgs{}),
			Handler: func(ctx tools.Context, args any) (any, error) {
				return map[string]string{"utc": time.Now().UTC().Format(time.RFC3339)}, nil
			},
		},
	}

	if store != nil {
		defs = append(defs, &tools.Definition{
			QualifiedName: tools.QualifiedName("system", "recall"),
			SkillSlug:     "system",
			Method:        "recall",
			Description:   "Full-text search across session message transcripts.",
			Schema:        schemaFor(RecallArgs{}),
			Handler: func(ctx tools.Context, args any) (any, error) {
				m, ok := args.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("recall: expected object arguments")
				}
				query, _ := m["query"].(string)
				if query == "" {
					return nil, fmt.Errorf("recall: query is required")
				}
				limit := 10
				if l, ok := m["limit"].(float64); ok && l > 0 {
					limit = int(l)
				}
				results, err := store.Search(context.Background(), query, limit)
				if err != nil {
					return nil, err
				}
				hits := make([]map[string]any, 0, len(results))
				for _, msg := range results {
					hits = append(hits, map[string]any{
						"session_id": msg.SessionID,
						"role":       msg.Role,
						"content":    msg.Content,
						"created_at": msg.CreatedAt,
					})
				}
				return map[string]any{"hits": hits}, nil
			},
		})
	}

	return defs
}
