package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	batchJsonOutput bool
	batchPassphrase string
	batchForce      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage stored label batches",
	Long: `Manage label batches persisted by the issue command.

Listing reads container metadata only; showing a batch unseals it and
requires the passphrase it was sealed with. Batches are immutable: they can
be listed, shown and deleted, never modified.`,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored batches",
	RunE:  runBatchList,
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Unseal and display a stored batch",
	Long: `Unseal a stored batch and display its labels.

Examples:
  carcode batch show 2f9c... --passphrase "print-run-42"
  CARCODE_PASSPHRASE=... carcode batch show 2f9c...`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchShow,
}

var batchDeleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a stored batch",
	Long: `Delete a stored batch.

The physical labels remain scannable; deletion only destroys the stored
mapping from payloads back to identifiers.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchDelete,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchShowCmd)
	batchCmd.AddCommand(batchDeleteCmd)

	batchListCmd.Flags().BoolVar(&batchJsonOutput, "json", false, "output as JSON")
	batchShowCmd.Flags().BoolVar(&batchJsonOutput, "json", false, "output as JSON")
	batchShowCmd.Flags().StringVar(&batchPassphrase, "passphrase", "", "sealing passphrase (or use CARCODE_PASSPHRASE env var)")
	batchDeleteCmd.Flags().BoolVar(&batchForce, "force", false, "delete without confirmation")
}

func runBatchList(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	infos, err := issuerSvc.ListBatches()
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to list batches: %w", err), started)
	}

	if batchJsonOutput {
		return auditCmdComplete(cmd, printJSON(infos), started)
	}

	if len(infos) == 0 {
		fmt.Println("No batches stored.")
		return auditCmdComplete(cmd, nil, started)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH ID\tCREATED\tLABELS\tVALID")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\n",
			info.BatchID,
			info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.LabelCount,
			info.IsValid)
	}
	if err = w.Flush(); err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	return auditCmdComplete(cmd, nil, started)
}

func runBatchShow(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	batchID := args[0]

	passphrase, err := resolvePassphrase(batchPassphrase)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	batch, err := issuerSvc.LoadBatch(batchID, passphrase)
	if err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to load batch: %w", err), started)
	}

	if batchJsonOutput {
		return auditCmdComplete(cmd, printJSON(batch), started)
	}

	fmt.Printf("Batch: %s\n", batch.BatchID)
	if batch.Description != "" {
		fmt.Printf("Description: %s\n", batch.Description)
	}
	fmt.Printf("Created: %s\n", batch.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Labels: %d\n\n", len(batch.Labels))

	for _, label := range batch.Labels {
		fmt.Printf("%s\t%s\n", label.TagID, label.Payload)
	}

	return auditCmdComplete(cmd, nil, started)
}

func runBatchDelete(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	batchID := args[0]

	if !batchForce {
		if !promptConfirmation(fmt.Sprintf("Delete batch %s? The stored identifier mapping cannot be recovered.", batchID)) {
			fmt.Println("Aborted.")
			return auditCmdComplete(cmd, nil, started)
		}
	}

	if err := issuerSvc.DeleteBatch(batchID); err != nil {
		return auditCmdComplete(cmd, fmt.Errorf("failed to delete batch: %w", err), started)
	}

	fmt.Printf("Batch %s deleted.\n", batchID)
	return auditCmdComplete(cmd, nil, started)
}
