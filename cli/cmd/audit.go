package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/carcode/audit"
)

var (
	auditJsonOutput   bool
	auditSince        string
	auditUntil        string
	auditAction       string
	auditTagID        string
	auditBatchID      string
	auditFormat       string
	auditFailuresOnly bool
	auditLimit        int
	auditOffset       int
	auditDetails      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and analyze audit logs",
	Long: `Query and analyze the codec audit trail.

Covers key loads, payload builds and parses, and the batch lifecycle
(issue, seal, unseal, delete). Queries require a file audit logger;
syslog output is write-only.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # All recent events
  carcode audit query --audit --limit 50

  # Failed operations in the last 24 hours
  carcode audit query --audit --failures-only --since "$(date -d '24 hours ago' -Iseconds)"

  # Everything that happened to one batch
  carcode audit query --audit --batch-id 2f9c...

  # All parse events for URL-shaped input
  carcode audit query --audit --action PAYLOAD_PARSE --format url`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long: `Show failed operations for security monitoring.

Examples:
  # Recent failures
  carcode audit failures --audit

  # Failures in the last week
  carcode audit failures --audit --since "$(date -d '7 days ago' -Iseconds)"`,
	RunE: runAuditFailures,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditFailuresCmd} {
		c.Flags().BoolVar(&auditJsonOutput, "json", false, "output as JSON")
		c.Flags().StringVar(&auditSince, "since", "", "events after this time (RFC3339)")
		c.Flags().StringVar(&auditUntil, "until", "", "events before this time (RFC3339)")
		c.Flags().IntVar(&auditLimit, "limit", 100, "maximum number of events")
		c.Flags().IntVar(&auditOffset, "offset", 0, "number of events to skip")
		c.Flags().BoolVar(&auditDetails, "details", false, "show event metadata")
	}

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (e.g. PAYLOAD_BUILD, BATCH_SEAL)")
	auditQueryCmd.Flags().StringVar(&auditTagID, "tag-id", "", "filter by tag identifier")
	auditQueryCmd.Flags().StringVar(&auditBatchID, "batch-id", "", "filter by batch identifier")
	auditQueryCmd.Flags().StringVar(&auditFormat, "format", "", "filter parse events by detected format")
	auditQueryCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "show only failed operations")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	if auditFailuresOnly {
		failed := false
		options.Success = &failed
	}
	options.Action = auditAction
	options.TagID = auditTagID
	options.BatchID = auditBatchID
	options.Format = auditFormat

	return executeAuditQuery(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	failed := false
	options.Success = &failed

	return executeAuditQuery(options)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		TenantID: tenantID,
		Limit:    auditLimit,
		Offset:   auditOffset,
	}

	if auditSince != "" {
		since, err := parseTimeFlag(auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid --since value: %w", err)
		}
		options.Since = &since
	}

	if auditUntil != "" {
		until, err := parseTimeFlag(auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid --until value: %w", err)
		}
		options.Until = &until
	}

	return options, nil
}

func executeAuditQuery(options audit.QueryOptions) error {
	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	if auditJsonOutput {
		return printJSON(result)
	}

	if len(result.Events) == 0 {
		fmt.Println("No matching audit events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tACTION\tOK\tTAG\tBATCH\tERROR")
	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
			event.Timestamp.Format(time.RFC3339),
			event.Action,
			event.Success,
			orDash(event.TagID),
			orDash(event.BatchID),
			orDash(event.Error))
	}
	if err = w.Flush(); err != nil {
		return err
	}

	if auditDetails {
		fmt.Println()
		for _, event := range result.Events {
			if len(event.Metadata) == 0 {
				continue
			}
			fmt.Printf("%s %s:\n", event.Timestamp.Format(time.RFC3339), event.Action)
			for k, v := range event.Metadata {
				fmt.Printf("  %s: %v\n", k, v)
			}
		}
	}

	fmt.Printf("\n%d of %d matching events", len(result.Events), result.Filtered)
	if result.HasMore {
		fmt.Printf(" (more available, use --offset %d)", options.Offset+len(result.Events))
	}
	fmt.Println()

	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
