package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var styleOwnerID string

var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Manage communication style elements",
}

var styleSetCmd = &cobra.Command{
	Use:   "set <element=value>...",
	Short: "Set communication style elements",
	Long: `Set one or more style elements on the owner's persona, for example:

  pforge style set tone=warm formality=casual emoji_usage=frequent

Elements are upserted by name; the latest value wins.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStyleSet,
}

func init() {
	styleSetCmd.Flags().StringVar(&styleOwnerID, "owner", "", "owner id (required)")
	styleSetCmd.MarkFlagRequired("owner")
	styleCmd.AddCommand(styleSetCmd)
}

func runStyleSet(cmd *cobra.Command, args []string) error {
	style := make(map[string]string, len(args))
	for _, arg := range args {
		element, value, found := strings.Cut(arg, "=")
		if !found || element == "" || value == "" {
			return fmt.Errorf("style argument %q must be element=value", arg)
		}
		style[element] = value
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.engine.SetCommunicationStyle(ctx, styleOwnerID, style); err != nil {
		return err
	}
	fmt.Printf("Updated %d style element(s)\n", len(style))
	return nil
}
