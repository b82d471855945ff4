package model

import (
	"fmt"
	"sort"
	"strings"
)

// ProviderID names a supported gateway.
type ProviderID string

const (
	OpenRouter ProviderID = "openrouter"
	Friendli   ProviderID = "friendli"
	OpenAI     ProviderID = "openai"
	Anthropic  ProviderID = "anthropic"
	Dummy      ProviderID = "dummy"
)

// Providers lists every ProviderID.
var Providers = []ProviderID{OpenRouter, Friendli, OpenAI, Anthropic, Dummy}

// ParseProviderID validates a provider name.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Providers {
		if p == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ModelSpec describes one selectable model.
type ModelSpec struct {
	// Alias is the user-facing name, unique across the catalog.
	Alias    string
	Provider ProviderID
	// ID is the model name sent to the provider.
	ID    string
	Label string
	// Tiers are the usage counters charged for each request, all in the
	// provider's scope.
	Tiers           []string
	MaxOutputTokens int
	Free            bool
}

// Catalog is the closed set of selectable models.
type Catalog struct {
	models map[string]ModelSpec
	order  []string
}

// NewCatalog validates specs and builds a catalog.
func NewCatalog(specs ...ModelSpec) (*Catalog, error) {
	c := &Catalog{models: make(map[string]ModelSpec, len(specs))}
	for _, s := range specs {
		if s.Alias == "" || s.ID == "" {
			return nil, fmt.Errorf("model spec %+v: alias and id are required", s)
		}
		if _, err := ParseProviderID(string(s.Provider)); err != nil {
			return nil, fmt.Errorf("model %s: %w", s.Alias, err)
		}
		if _, dup := c.models[s.Alias]; dup {
			return nil, fmt.Errorf("duplicate model alias %q", s.Alias)
		}
		c.models[s.Alias] = s
		c.order = append(c.order, s.Alias)
	}
	return c, nil
}

// Lookup resolves an alias.
func (c *Catalog) Lookup(alias string) (ModelSpec, bool) {
	s, ok := c.models[strings.ToLower(strings.TrimSpace(alias))]
	return s, ok
}

// List returns every model in catalog order.
func (c *Catalog) List() []ModelSpec {
	out := make([]ModelSpec, 0, len(c.order))
	for _, a := range c.order {
		out = append(out, c.models[a])
	}
	return out
}

// ForProvider returns the models served by p, in catalog order.
func (c *Catalog) ForProvider(p ProviderID) []ModelSpec {
	var out []ModelSpec
	for _, a := range c.order {
		if s := c.models[a]; s.Provider == p {
			out = append(out, s)
		}
	}
	return out
}

// Restrict keeps only models whose provider passes keep.
func (c *Catalog) Restrict(keep func(ProviderID) bool) *Catalog {
	out := &Catalog{models: map[string]ModelSpec{}}
	for _, a := range c.order {
		if s := c.models[a]; keep(s.Provider) {
			out.models[a] = s
			out.order = append(out.order, a)
		}
	}
	return out
}

// ValidateTiers checks that every tier a model charges is known for its
// provider.
func (c *Catalog) ValidateTiers(hasTier func(p ProviderID, tier string) bool) error {
	var missing []string
	for _, a := range c.order {
		s := c.models[a]
		for _, t := range s.Tiers {
			if !hasTier(s.Provider, t) {
				missing = append(missing, fmt.Sprintf("%s -> %s/%s", s.Alias, s.Provider, t))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("models reference unconfigured usage tiers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultModels is the built-in model table.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{Alias: "deepseek", Provider: OpenRouter, ID: "deepseek/deepseek-chat-v3.1:free", Label: "DeepSeek V3.1 (free)", Tiers: []string{"free"}, MaxOutputTokens: 2000, Free: true},
		{Alias: "deepseek_large", Provider: OpenRouter, ID: "deepseek/deepseek-chat-v3.1", Label: "DeepSeek V3.1", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "deepseek_coder", Provider: OpenRouter, ID: "deepseek/deepseek-coder-6.7b-instruct", Label: "DeepSeek Coder", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "codellama", Provider: OpenRouter, ID: "alfredpros/codellama-7b-instruct-solidity", Label: "CodeLlama Solidity", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "claude", Provider: OpenRouter, ID: "anthropic/claude-3.5-haiku", Label: "Claude 3.5 Haiku", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "gpt", Provider: OpenRouter, ID: "openai/gpt-3.5-turbo", Label: "GPT-3.5 Turbo", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "gpt4", Provider: OpenRouter, ID: "openai/gpt-4o-mini", Label: "GPT-4o mini", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "gemini", Provider: OpenRouter, ID: "google/gemini-2.5-flash", Label: "Gemini 2.5 Flash", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "llama", Provider: OpenRouter, ID: "meta-llama/llama-3.1-8b-instruct:free", Label: "Llama 3.1 8B (free)", Tiers: []string{"free"}, MaxOutputTokens: 2000, Free: true},
		{Alias: "qwen3_highlights", Provider: Friendli, ID: "qwen3-highlights", Label: "Qwen3 Highlights", Tiers: []string{"qwen3_highlights", "total"}, MaxOutputTokens: 3000},
		{Alias: "qwen3", Provider: Friendli, ID: "qwen3", Label: "Qwen3", Tiers: []string{"total"}, MaxOutputTokens: 3000},
		{Alias: "qwen2", Provider: Friendli, ID: "qwen2", Label: "Qwen2", Tiers: []string{"total"}, MaxOutputTokens: 3000},
		{Alias: "openai", Provider: OpenAI, ID: "gpt-4o-mini", Label: "OpenAI GPT-4o mini", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "haiku", Provider: Anthropic, ID: "claude-3-5-haiku-latest", Label: "Anthropic Claude 3.5 Haiku", Tiers: []string{"paid"}, MaxOutputTokens: 2000},
		{Alias: "dummy", Provider: Dummy, ID: "dummy", Label: "Echo (local)", MaxOutputTokens: 2000, Free: true},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultModels()...)
	if err != nil {
		panic(err)
	}
	return c
}
