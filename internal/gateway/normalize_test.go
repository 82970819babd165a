package gateway

import "testing"

func TestExtractThinkingPrefersReasoningField(t *testing.T) {
	content, thinking := ExtractThinking(RawCompletion{
		Content:        "answer",
		ReasoningField: "reasoned here",
		ThinkingField:  "ignored",
	})
	if thinking != "reasoned here" || content != "answer" {
		t.Fatalf("unexpected extraction: content=%q thinking=%q", content, thinking)
	}
}

func TestExtractThinkingFallsBackToThinkingField(t *testing.T) {
	content, thinking := ExtractThinking(RawCompletion{Content: "answer", ThinkingField: "thought"})
	if thinking != "thought" || content != "answer" {
		t.Fatalf("unexpected extraction: content=%q thinking=%q", content, thinking)
	}
}

func TestExtractThinkingStripsEmbeddedBlock(t *testing.T) {
	content, thinking := ExtractThinking(RawCompletion{
		Content: "<think>pondering</think>final answer",
	})
	if thinking != "pondering" {
		t.Fatalf("expected extracted thinking, got %q", thinking)
	}
	if content != "final answer" {
		t.Fatalf("expected stripped content, got %q", content)
	}
}

func TestExtractThinkingAbsentWhenNoneFound(t *testing.T) {
	content, thinking := ExtractThinking(RawCompletion{Content: "plain answer"})
	if thinking != "" {
		t.Fatalf("expected no thinking content, got %q", thinking)
	}
	if content != "plain answer" {
		t.Fatalf("expected content unchanged, got %q", content)
	}
}

func TestActivationForClaudeUsesTokenBudget(t *testing.T) {
	act := ActivationFor(FamilyClaude, true)
	if act.BudgetTokens != ThinkingBudgetTokens {
		t.Fatalf("expected budget %d, got %d", ThinkingBudgetTokens, act.BudgetTokens)
	}
	if act.ExtensionFlag {
		t.Fatal("claude family should not set extension flag")
	}
}

func TestActivationForQwenUsesExtensionFlag(t *testing.T) {
	act := ActivationFor(FamilyQwen, true)
	if !act.ExtensionFlag {
		t.Fatal("expected qwen family to set extension flag")
	}
	if act.BudgetTokens != 0 {
		t.Fatalf("expected no token budget for qwen, got %d", act.BudgetTokens)
	}
}

func TestActivationForUnsupportedModelIsZero(t *testing.T) {
	act := ActivationFor(FamilyClaude, false)
	if act.ExtensionFlag || act.BudgetTokens != 0 {
		t.Fatal("expected zero activation when model doesn't support thinking")
	}
}
