package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	issueCount       int
	issueDescription string
	issueSave        bool
	issuePassphrase  string
	issueJsonOutput  bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a batch of tag labels",
	Long: `Issue a batch of freshly generated tag identifiers with their payloads.

Without --save the batch is printed and discarded; nothing touches storage.
With --save the batch is sealed under a passphrase and persisted, so the
mapping from payload back to identifier can be recovered later.

Examples:
  # Print 10 labels without storing anything
  carcode issue --count 10

  # Issue and persist a sealed batch of 500 labels
  carcode issue --count 500 --save --passphrase "print-run-42"

  # Passphrase from the environment
  CARCODE_PASSPHRASE=... carcode issue --count 500 --save`,
	RunE: runIssue,
}

func init() {
	rootCmd.AddCommand(issueCmd)

	issueCmd.Flags().IntVarP(&issueCount, "count", "n", 1, "number of labels to issue")
	issueCmd.Flags().StringVarP(&issueDescription, "description", "d", "", "free-text description of the print run")
	issueCmd.Flags().BoolVar(&issueSave, "save", false, "seal and persist the batch")
	issueCmd.Flags().StringVar(&issuePassphrase, "passphrase", "", "sealing passphrase (or use CARCODE_PASSPHRASE env var)")
	issueCmd.Flags().BoolVar(&issueJsonOutput, "json", false, "output as JSON")
}

func runIssue(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	batch, err := issuerSvc.IssueBatch(issueCount, issueDescription)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to issue batch: %w", err), started)
	}

	if issueSave {
		passphrase, err := resolvePassphrase(issuePassphrase)
		if err != nil {
			return auditCmdComplete(cmd, err, started)
		}
		if err = issuerSvc.SaveBatch(batch, passphrase); err != nil {
			return auditCmdComplete(cmd, fmt.Errorf("failed to save batch: %w", err), started)
		}
	}

	if issueJsonOutput {
		return auditCmdComplete(cmd, printJSON(batch), started)
	}

	fmt.Printf("Batch: %s\n", batch.BatchID)
	if batch.Description != "" {
		fmt.Printf("Description: %s\n", batch.Description)
	}
	fmt.Printf("Created: %s\n", batch.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Labels: %d\n", len(batch.Labels))
	if issueSave {
		fmt.Println("Stored: yes (sealed)")
	} else {
		fmt.Println("Stored: no")
	}
	fmt.Println()

	for _, label := range batch.Labels {
		fmt.Printf("%s\t%s\n", label.TagID, label.Payload)
	}

	return auditCmdComplete(cmd, nil, started)
}
