package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/personaforge/personaforge/internal/models"
)

var (
	notifyOwnerID    string
	notifyModality   string
	notifyLocation   string
	notifyConsentRef string
)

var notifyCmd = &cobra.Command{
	Use:   "notify <package-id>",
	Short: "Process a data package notification",
	Long: `Run the analysis pipeline for one consented data package.

Each pipeline stage checks its own consent scope before running; denied
stages are skipped, not failed. Re-delivering a notification for an already
processed package is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().StringVar(&notifyOwnerID, "owner", "", "owner id the package belongs to (required)")
	notifyCmd.Flags().StringVar(&notifyModality, "modality", "text", "package modality: text, audio, video, image")
	notifyCmd.Flags().StringVar(&notifyLocation, "location", "", "location reference for the package content (required)")
	notifyCmd.Flags().StringVar(&notifyConsentRef, "consent-ref", "", "consent record reference")
	notifyCmd.MarkFlagRequired("owner")
	notifyCmd.MarkFlagRequired("location")
}

func runNotify(cmd *cobra.Command, args []string) error {
	modality := models.Modality(notifyModality)
	switch modality {
	case models.ModalityText, models.ModalityAudio, models.ModalityVideo, models.ModalityImage:
	default:
		return fmt.Errorf("unknown modality %q", notifyModality)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	pkg := models.DataPackageRef{
		PackageID:   args[0],
		OwnerID:     notifyOwnerID,
		ConsentRef:  notifyConsentRef,
		LocationRef: notifyLocation,
		Modality:    modality,
		Status:      models.PackagePending,
		CreatedAt:   time.Now().UTC(),
	}

	result, err := a.orch.Notify(ctx, pkg)
	if err != nil {
		return err
	}

	if result.AlreadyProcessed {
		fmt.Printf("Package %s already processed, nothing to do.\n", result.PackageID)
		return nil
	}

	fmt.Printf("Package %s processed in %s\n", result.PackageID, result.Duration.Round(time.Millisecond))
	fmt.Printf("  Stages run:     %d\n", len(result.StagesRun))
	fmt.Printf("  Stages skipped: %d (consent or availability)\n", len(result.StagesSkipped))
	fmt.Printf("  Stages failed:  %d\n", len(result.StagesFailed))
	fmt.Printf("  Candidates:     %d\n", result.CandidateCount)
	if result.GraphFailed > 0 {
		fmt.Printf("  ⚠️  %d graph operations failed; re-run notify to re-apply\n", result.GraphFailed)
	}
	return nil
}
