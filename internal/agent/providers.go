// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"fmt"
	"strings"

	"github.com/jolks/persona-agent/internal/config"
)

// NewChatProvider builds the appropriate ChatProvider based on cfg.Provider.
// Provider-specific keys take precedence over the generic APIKey.
func NewChatProvider(cfg *config.AIConfig) (ChatProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		apiKey := cfg.AnthropicAPIKey
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		if apiKey == "" {
			return nil, fmt.Errorf("Anthropic API key is not set in configuration")
		}
		return NewAnthropicProvider(apiKey, cfg.BaseURL), nil
	case "openai", "":
		apiKey := cfg.OpenAIAPIKey
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI API key is not set in configuration")
		}
		return NewOpenAIProvider(apiKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}
