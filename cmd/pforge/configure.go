package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/personaforge/personaforge/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup for analyzer credentials (with OS keychain support)",
	Long: `Store analyzer API keys in the OS keychain so they never sit in a
config file or shell history.

This will configure:
1. Analyzer provider (openai or gemini)
2. The provider's API key (hidden input, stored in the OS keychain)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("🔧 PersonaForge Configuration")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	km := config.NewKeyringManager()

	fmt.Printf("Analyzer provider [%s]: ", cfg.Analyzer.Provider)
	provider, _ := reader.ReadString('\n')
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = cfg.Analyzer.Provider
	}

	var item string
	switch provider {
	case "openai":
		item = config.KeyringOpenAIItem
	case "gemini":
		item = config.KeyringGeminiItem
	default:
		return fmt.Errorf("unknown provider %q (want openai or gemini)", provider)
	}

	existing, err := km.GetKey(item)
	if err != nil {
		fmt.Println("⚠️  OS keychain not available; set the API key via environment instead.")
		return err
	}
	if existing != "" {
		fmt.Print("An API key is already stored. Replace it? (y/N): ")
		response, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Println("Keeping existing key.")
			return nil
		}
	}

	fmt.Printf("%s API key (hidden): ", provider)
	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read API key: %w", err)
	}
	apiKey := strings.TrimSpace(string(keyBytes))
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := km.SaveKey(item, apiKey); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✅ API key stored in the OS keychain.")
	fmt.Println("   Set analyzer.use_keychain: true in your config to use it.")
	return nil
}
