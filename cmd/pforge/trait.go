package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/personaforge/personaforge/internal/models"
)

var (
	traitOwnerID     string
	traitName        string
	traitDescription string
	traitCategory    string
)

var traitCmd = &cobra.Command{
	Use:   "trait",
	Short: "Manage persona traits directly",
}

var traitAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an owner-authored trait",
	Long: `Add a trait the owner states about themselves. User-added traits skip
review and enter the persona graph as active immediately.`,
	RunE: runTraitAdd,
}

var traitSupersedeCmd = &cobra.Command{
	Use:   "supersede <candidate-id>",
	Short: "Retire a candidate and mint a replacement",
	Long: `Mark a candidate as superseded and create a fresh candidate in its
place. The replacement starts the review lifecycle over; flags override the
carried-over name, description, or category.`,
	Args: cobra.ExactArgs(1),
	RunE: runTraitSupersede,
}

var traitRepairCmd = &cobra.Command{
	Use:   "repair <candidate-id>",
	Short: "Re-derive a candidate's status from the refinement log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraitRepair,
}

func init() {
	for _, c := range []*cobra.Command{traitAddCmd, traitSupersedeCmd, traitRepairCmd} {
		c.Flags().StringVar(&traitOwnerID, "owner", "", "owner id (required)")
		c.MarkFlagRequired("owner")
	}
	traitAddCmd.Flags().StringVar(&traitName, "name", "", "trait name (required)")
	traitAddCmd.Flags().StringVar(&traitDescription, "description", "", "trait description")
	traitAddCmd.Flags().StringVar(&traitCategory, "category", "", "trait category (required)")
	traitAddCmd.MarkFlagRequired("name")
	traitAddCmd.MarkFlagRequired("category")

	traitSupersedeCmd.Flags().StringVar(&traitName, "name", "", "replacement trait name")
	traitSupersedeCmd.Flags().StringVar(&traitDescription, "description", "", "replacement description")
	traitSupersedeCmd.Flags().StringVar(&traitCategory, "category", "", "replacement category")

	traitCmd.AddCommand(traitAddCmd)
	traitCmd.AddCommand(traitSupersedeCmd)
	traitCmd.AddCommand(traitRepairCmd)
}

func runTraitAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	trait, err := a.engine.AddCustomTrait(ctx, traitOwnerID, models.TraitDraft{
		Name:        traitName,
		Description: traitDescription,
		Category:    models.TraitCategory(traitCategory),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Trait %s added (%s, %s)\n", trait.CandidateID, trait.Name, trait.Category)
	return nil
}

func runTraitSupersede(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	replacement, err := a.engine.SupersedeCandidate(ctx, traitOwnerID, args[0], models.TraitDraft{
		Name:        traitName,
		Description: traitDescription,
		Category:    models.TraitCategory(traitCategory),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Candidate %s superseded by %s\n", args[0], replacement.CandidateID)
	return nil
}

func runTraitRepair(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	repaired, err := a.engine.RepairCandidate(ctx, traitOwnerID, args[0])
	if err != nil {
		return err
	}
	if repaired {
		fmt.Printf("Candidate %s status repaired from refinement log\n", args[0])
	} else {
		fmt.Printf("Candidate %s is consistent, no repair needed\n", args[0])
	}
	return nil
}
