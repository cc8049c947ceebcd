package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/personaforge/personaforge/internal/models"
)

var statusOwnerID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show trait candidates and their review state for an owner",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusOwnerID, "owner", "", "owner id (required)")
	statusCmd.MarkFlagRequired("owner")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	candidates, err := a.store.ListCandidates(ctx, statusOwnerID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Printf("No trait candidates for owner %s\n", statusOwnerID)
		return nil
	}

	byStatus := make(map[models.CandidateStatus][]*models.TraitCandidate)
	for _, c := range candidates {
		byStatus[c.Status] = append(byStatus[c.Status], c)
	}

	statuses := []models.CandidateStatus{
		models.StatusCandidate,
		models.StatusAwaitingRefinement,
		models.StatusConfirmed,
		models.StatusModified,
		models.StatusRejected,
		models.StatusSuperseded,
	}

	fmt.Printf("Traits for owner %s (%d total)\n", statusOwnerID, len(candidates))
	for _, status := range statuses {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		fmt.Printf("\n%s (%d):\n", status, len(group))
		for _, c := range group {
			fmt.Printf("  %-36s  %-24s %-20s confidence=%.2f\n", c.CandidateID, c.Name, c.Category, c.Confidence)
		}
	}
	return nil
}
