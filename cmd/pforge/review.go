package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/personaforge/personaforge/internal/models"
	"github.com/personaforge/personaforge/internal/refine"
)

var (
	reviewOwnerID     string
	reviewDecision    string
	reviewName        string
	reviewDescription string
	reviewCategory    string
	reviewExpect      string
)

var reviewCmd = &cobra.Command{
	Use:   "review <candidate-id>",
	Short: "Confirm, edit, or reject a trait candidate",
	Long: `Apply a review decision to one trait candidate.

Decisions:
  confirm  accept the candidate as proposed
  modify   accept with edits (--name/--description/--category)
  reject   mark the trait as rejected

Pass --expect with the status you last saw to guard against a concurrent
review; the command fails rather than clobber a newer decision.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewOwnerID, "owner", "", "owner id (required)")
	reviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "confirm, modify, or reject (required)")
	reviewCmd.Flags().StringVar(&reviewName, "name", "", "edited trait name (modify only)")
	reviewCmd.Flags().StringVar(&reviewDescription, "description", "", "edited description (modify only)")
	reviewCmd.Flags().StringVar(&reviewCategory, "category", "", "edited category (modify only)")
	reviewCmd.Flags().StringVar(&reviewExpect, "expect", "", "expected current status (optimistic concurrency guard)")
	reviewCmd.MarkFlagRequired("owner")
	reviewCmd.MarkFlagRequired("decision")
}

func runReview(cmd *cobra.Command, args []string) error {
	var decision models.RefinementDecision
	switch reviewDecision {
	case "confirm":
		decision = models.DecisionConfirmedAsIs
	case "modify":
		decision = models.DecisionConfirmedModified
	case "reject":
		decision = models.DecisionRejected
	default:
		return fmt.Errorf("unknown decision %q (want confirm, modify, or reject)", reviewDecision)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	candidate, err := a.engine.ReviewCandidate(ctx, refine.ReviewRequest{
		OwnerID:     reviewOwnerID,
		CandidateID: args[0],
		Decision:    decision,
		Edits: models.TraitEdits{
			Name:        reviewName,
			Description: reviewDescription,
			Category:    models.TraitCategory(reviewCategory),
		},
		ExpectedStatus: models.CandidateStatus(reviewExpect),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Candidate %s → %s\n", candidate.CandidateID, candidate.Status)
	fmt.Printf("  %s (%s)\n", candidate.Name, candidate.Category)
	return nil
}
