package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExecuteRejectsArgumentsFailingSchema(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(&Definition{
		QualifiedName: "weather__lookup",
		SkillSlug:     "weather",
		Method:        "lookup",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
		Handler: func(ctx Context, args any) (any, error) {
			called = true
			return "ok", nil
		},
	})
	exec := NewExecutor(reg, ExecutorConfig{})

	res := exec.Execute(context.Background(), "call-1", "weather__lookup", `{"zip":"94107"}`)
	if res.Success {
		t.Fatal("expected schema validation failure")
	}
	if called {
		t.Fatal("handler should not run when arguments fail schema validation")
	}
}

func TestExecuteAllowsArgumentsMatchingSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Definition{
		QualifiedName: "weather__lookup",
		SkillSlug:     "weather",
		Method:        "lookup",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
		Handler: func(ctx Context, args any) (any, error) {
			return "ok", nil
		},
	})
	exec := NewExecutor(reg, ExecutorConfig{})

	res := exec.Execute(context.Background(), "call-1", "weather__lookup", `{"city":"SF"}`)
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Content)
	}
}
