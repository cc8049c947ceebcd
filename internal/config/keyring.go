package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "PersonaForge"

	// KeyringOpenAIItem is the key for the OpenAI API key
	KeyringOpenAIItem = "openai-api-key"

	// KeyringGeminiItem is the key for the Gemini API key
	KeyringGeminiItem = "gemini-api-key"
)

// KeyringManager handles secure credential storage in the OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveKey stores an analyzer API key in the OS keychain
func (km *KeyringManager) SaveKey(item, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}

	if err := keyring.Set(KeyringService, item, apiKey); err != nil {
		km.logger.Error("failed to save key to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("api key saved to keychain", "service", KeyringService, "item", item)
	return nil
}

// GetKey retrieves an analyzer API key; empty string when unset
func (km *KeyringManager) GetKey(item string) (string, error) {
	apiKey, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return apiKey, nil
}

// DeleteKey removes a stored API key
func (km *KeyringManager) DeleteKey(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}

// ResolveAnalyzerKeys fills API keys from the keychain when the config asks
// for keychain storage and the keys are not already set via env/config.
func ResolveAnalyzerKeys(cfg *Config) error {
	if !cfg.Analyzer.UseKeychain {
		return nil
	}

	km := NewKeyringManager()
	if cfg.Analyzer.OpenAIKey == "" {
		key, err := km.GetKey(KeyringOpenAIItem)
		if err != nil {
			return err
		}
		cfg.Analyzer.OpenAIKey = key
	}
	if cfg.Analyzer.GeminiKey == "" {
		key, err := km.GetKey(KeyringGeminiItem)
		if err != nil {
			return err
		}
		cfg.Analyzer.GeminiKey = key
	}
	return nil
}
