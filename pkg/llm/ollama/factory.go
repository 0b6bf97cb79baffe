package ollama

import (
	"toolchat/pkg/config"
	"toolchat/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sys.OllamaDefaultURL
	}
	client, err := NewOllamaClient(baseURL, cfg.Options)
	if err != nil {
		return nil, err
	}
	client.SetDebug(sys.DebugChunks)
	return client, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
