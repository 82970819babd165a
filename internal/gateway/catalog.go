package gateway

import (
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelFamily groups models that share thinking-activation conventions.
type ModelFamily string

const (
	FamilyClaude   ModelFamily = "claude"
	FamilyQwen     ModelFamily = "qwen"
	FamilyDeepSeek ModelFamily = "deepseek"
	FamilyGemini   ModelFamily = "gemini"
	FamilyOther    ModelFamily = "other"
)

// ModelEntry is one row in the Model Catalogue: an alias resolves to a
// provider-specific model string served by a named Provider.
type ModelEntry struct {
	Alias        string
	ProviderName string
	ModelID      string // vendor-prefixed identifier passed to the backend
	Family       ModelFamily
	SupportsThinking bool
}

// Catalogue resolves model aliases to provider-specific identifiers, with
// thread-safe registration and lookup keyed by gateway alias rather than a
// capability matrix, since the gateway only needs alias resolution and
// thinking-activation rules.
type Catalogue struct {
	mu      sync.RWMutex
	entries map[string]*ModelEntry
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[string]*ModelEntry)}
}

// Register adds or replaces a model alias.
func (c *Catalogue) Register(entry *ModelEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[strings.ToLower(entry.Alias)] = entry
}

// Resolve returns the catalogue entry for an alias.
func (c *Catalogue) Resolve(alias string) (*ModelEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(alias)]
	return e, ok
}

// ThinkingBudgetTokens is the fixed token budget the gateway requests for
// Claude-family thinking directives.
const ThinkingBudgetTokens = 4096

// ThinkingActivation describes how to turn on reasoning for a model family.
type ThinkingActivation struct {
	// ExtensionFlag is set in the provider extension envelope for
	// Qwen/DeepSeek-style models (enable_thinking=true).
	ExtensionFlag bool
	// BudgetTokens is set for Claude-family thinking directives; zero
	// means no token-budgeted thinking directive applies.
	BudgetTokens int
}

// ActivationFor returns how to request thinking for the given family, or
// the zero value if the family doesn't support it.
func ActivationFor(family ModelFamily, supportsThinking bool) ThinkingActivation {
	if !supportsThinking {
		return ThinkingActivation{}
	}
	switch family {
	case FamilyClaude:
		return ThinkingActivation{BudgetTokens: ThinkingBudgetTokens}
	case FamilyQwen, FamilyDeepSeek:
		return ThinkingActivation{ExtensionFlag: true}
	default:
		return ThinkingActivation{}
	}
}

func registerDefaults(c *Catalogue) {
	c.Register(&ModelEntry{Alias: "claude-opus", ProviderName: "anthropic", ModelID: "claude-opus-4-5-20251101", Family: FamilyClaude, SupportsThinking: true})
	c.Register(&ModelEntry{Alias: "claude-sonnet", ProviderName: "anthropic", ModelID: "claude-3-5-sonnet-latest", Family: FamilyClaude, SupportsThinking: true})
	c.Register(&ModelEntry{Alias: "claude-haiku", ProviderName: "anthropic", ModelID: "claude-3-5-haiku-latest", Family: FamilyClaude, SupportsThinking: false})
	c.Register(&ModelEntry{Alias: "claude-bedrock-sonnet", ProviderName: "bedrock", ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Family: FamilyClaude, SupportsThinking: true})
	c.Register(&ModelEntry{Alias: "gpt-4o", ProviderName: "openai", ModelID: "gpt-4o", Family: FamilyOther, SupportsThinking: false})
	c.Register(&ModelEntry{Alias: "gpt-4o-mini", ProviderName: "openai", ModelID: "gpt-4o-mini", Family: FamilyOther, SupportsThinking: false})
	c.Register(&ModelEntry{Alias: "qwen-max", ProviderName: "openai", ModelID: "qwen-max", Family: FamilyQwen, SupportsThinking: true})
	c.Register(&ModelEntry{Alias: "deepseek-chat", ProviderName: "openai", ModelID: "deepseek-chat", Family: FamilyDeepSeek, SupportsThinking: true})
	c.Register(&ModelEntry{Alias: "gemini-pro", ProviderName: "gemini", ModelID: "gemini-1.5-pro-latest", Family: FamilyGemini, SupportsThinking: false})
	c.Register(&ModelEntry{Alias: "gemini-flash", ProviderName: "gemini", ModelID: "gemini-2.0-flash-exp", Family: FamilyGemini, SupportsThinking: false})
}

// NewDefaultCatalogue returns a catalogue pre-populated with the model
// aliases this runtime ships fallback chains for.
func NewDefaultCatalogue() *Catalogue {
	c := NewCatalogue()
	registerDefaults(c)
	return c
}

// yamlCatalogue is the on-disk format for the Model Catalogue.
type yamlCatalogue struct {
	Models []struct {
		Alias            string `yaml:"alias"`
		Provider         string `yaml:"provider"`
		ModelID          string `yaml:"model_id"`
		Family           string `yaml:"family"`
		SupportsThinking bool   `yaml:"supports_thinking"`
	} `yaml:"models"`
}

// LoadCatalogueFile reads a Model Catalogue YAML document and registers
// every entry into c. Unlike the cron job table, the catalogue has no
// upsert-idempotence requirement — it is simply (re)loaded wholesale at
// startup.
func LoadCatalogueFile(c *Catalogue, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yamlCatalogue
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, m := range doc.Models {
		c.Register(&ModelEntry{
			Alias:            m.Alias,
			ProviderName:     m.Provider,
			ModelID:          m.ModelID,
			Family:           ModelFamily(m.Family),
			SupportsThinking: m.SupportsThinking,
		})
	}
	return nil
}
