package llm

import (
	"sort"

	"toolchat/pkg/config"
)

// ProviderGroupConfig 定義一組模型的配置
// 這是 Factory 的輸入標準，對應 config.json "llm" 陣列中的一個元素
type ProviderGroupConfig struct {
	Type    string   `json:"type"`
	APIKeys []string `json:"api_keys,omitempty"`
	// Models served by this group. Empty means the group accepts any model
	// name, which is how a local Ollama server is usually configured.
	Models  []string       `json:"models,omitempty"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory 定義建立 LLM Client 的工廠介面
type ProviderFactory interface {
	// Create 根據配置建立該群組的 Client
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) (Client, error)
}

// 全域 Provider 註冊表
var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider 註冊一個 Provider Factory
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory 取得指定名稱的 Provider Factory
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}

// ProviderNames lists the registered provider types.
func ProviderNames() []string {
	names := make([]string, 0, len(providerRegistry))
	for n := range providerRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
