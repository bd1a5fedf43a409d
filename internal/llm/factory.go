package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// preset describes an OpenAI-compatible provider.
type preset struct {
	envPrefix    string
	defaultModel string
	baseURL      string
	keyOptional  bool
}

var presets = map[string]preset{
	"openai":    {envPrefix: "OPENAI", defaultModel: "gpt-4o-mini"},
	"anthropic": {envPrefix: "ANTHROPIC", defaultModel: "claude-3-5-sonnet-latest"},
	"kimi":      {envPrefix: "KIMI", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"gemini":    {envPrefix: "GEMINI", defaultModel: "gemini-1.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"deepseek":  {envPrefix: "DEEPSEEK", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":      {envPrefix: "GROQ", defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
	"lmstudio":  {envPrefix: "LMSTUDIO", defaultModel: "local-model", baseURL: "http://localhost:1234/v1", keyOptional: true},
	"ollama":    {envPrefix: "OLLAMA", defaultModel: "llama3.1", baseURL: "http://localhost:11434/v1", keyOptional: true},
}

// Providers lists the supported provider names.
func Providers() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SettingsFromEnv reads LLM_PROVIDER and the provider's <PREFIX>_API_KEY,
// <PREFIX>_MODEL and <PREFIX>_BASE_URL variables.
func SettingsFromEnv() Settings {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	s := Settings{Provider: provider}
	if p, ok := presets[provider]; ok {
		s.APIKey = os.Getenv(p.envPrefix + "_API_KEY")
		s.Model = os.Getenv(p.envPrefix + "_MODEL")
		s.BaseURL = os.Getenv(p.envPrefix + "_BASE_URL")
	}
	return s
}

// Merge returns s with empty fields filled from fallback. The provider of s
// wins when set; credentials are only borrowed for the same provider.
func (s Settings) Merge(fallback Settings) Settings {
	if s.Provider == "" {
		s.Provider = fallback.Provider
	}
	if fallback.Provider != s.Provider {
		return s
	}
	if s.APIKey == "" {
		s.APIKey = fallback.APIKey
	}
	if s.Model == "" {
		s.Model = fallback.Model
	}
	if s.BaseURL == "" {
		s.BaseURL = fallback.BaseURL
	}
	return s
}

// NewClient creates a Client for s and returns it with the resolved model name.
func NewClient(s Settings) (Client, string, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	if provider == "" {
		provider = "openai"
	}
	p, ok := presets[provider]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM provider: %s (supported: %s)", s.Provider, strings.Join(Providers(), ", "))
	}

	model := s.Model
	if model == "" {
		model = p.defaultModel
	}

	apiKey := s.APIKey
	if apiKey == "" {
		if !p.keyOptional {
			return nil, "", fmt.Errorf("%s_API_KEY not set", p.envPrefix)
		}
		apiKey = provider
	}

	if provider == "anthropic" {
		return NewAnthropicClient(apiKey), model, nil
	}

	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = p.baseURL
	}
	return NewOpenAIClient(apiKey, baseURL), model, nil
}
