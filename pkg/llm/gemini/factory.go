package gemini

import (
	"context"

	"toolchat/pkg/config"
	"toolchat/pkg/llm"
)

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	// Determine thinking mode from unified options
	useThought := false
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	client, err := NewGeminiClient(context.Background(), cfg.APIKeys, cfg.BaseURL, useThought)
	if err != nil {
		return nil, err
	}
	client.SetDebug(sys.DebugChunks)
	return client, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
