package openailm

import (
	"toolchat/pkg/config"
	"toolchat/pkg/llm"
)

// OpenAIFactory handles creation of OpenAI Clients
type OpenAIFactory struct{}

// Create implements ProviderFactory
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	// Retrieve API Key. Local OpenAI-compatible servers ignore it but the
	// SDK insists on one.
	apiKey := "unused"
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	client, err := NewClient("openai", apiKey, cfg.BaseURL, cfg.Options)
	if err != nil {
		return nil, err
	}
	client.SetDebug(sys.DebugChunks)
	return client, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
