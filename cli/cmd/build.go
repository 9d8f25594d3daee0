package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	buildJsonOutput bool
	buildQuiet      bool
)

var buildCmd = &cobra.Command{
	Use:   "build <tag-id> [tag-id...]",
	Short: "Build QR payloads for tag identifiers",
	Long: `Build the obfuscated wire payload for one or more tag identifiers.

The payload is what gets printed inside the QR code on a physical tag.
Identifiers must carry the TAG- prefix.

Examples:
  # Build a single payload
  carcode build TAG-ABC123

  # Build several at once
  carcode build TAG-ABC123 TAG-XYZ999

  # Payload only, suitable for piping into a QR generator
  carcode build --quiet TAG-ABC123`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildJsonOutput, "json", false, "output as JSON")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "print payloads only, one per line")
}

func runBuild(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	type builtPayload struct {
		TagID   string `json:"tag_id"`
		Payload string `json:"payload"`
	}

	results := make([]builtPayload, 0, len(args))
	for _, tagID := range args {
		payload, err := codecSvc.BuildPayload(tagID)
		if err != nil {
			return auditCmdComplete(cmd, fmt.Errorf("failed to build payload for %s: %w", tagID, err), started)
		}
		results = append(results, builtPayload{TagID: tagID, Payload: payload})
	}

	if buildJsonOutput {
		return auditCmdComplete(cmd, printJSON(results), started)
	}

	for _, r := range results {
		if buildQuiet {
			fmt.Println(r.Payload)
		} else {
			fmt.Printf("%s\t%s\n", r.TagID, r.Payload)
		}
	}

	return auditCmdComplete(cmd, nil, started)
}
