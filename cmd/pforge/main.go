package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/personaforge/personaforge/internal/config"
	"github.com/personaforge/personaforge/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pforge",
	Short: "PersonaForge - consent-gated trait extraction and persona graph curation",
	Long: `PersonaForge turns consented data packages into reviewed persona traits.
The orchestrator runs consent-gated analysis pipelines over incoming packages;
the refinement commands let an owner confirm, edit, or reject what the
analyzers proposed before it becomes part of their persona graph.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		// Component packages log through slog.Default; Initialize points it
		// at the rotating handler before anything is wired.
		if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
			logger.WithError(err).Warn("Failed to initialize structured logging")
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
		if err := config.ResolveAnalyzerKeys(cfg); err != nil {
			logger.WithError(err).Warn("Keychain lookup failed, continuing with env/config keys")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .personaforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`PersonaForge {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(traitCmd)
	rootCmd.AddCommand(styleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configureCmd)
}
