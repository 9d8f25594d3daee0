package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	scanJsonOutput bool
	scanShowFormat bool
	scanStrict     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [input...]",
	Short: "Decode scanned QR content to tag identifiers",
	Long: `Decode scanned QR content back to canonical tag identifiers.

Accepts obfuscated payloads, plain identifiers and scan URLs; anything else
is reported as unrecognized. With no arguments, input is read from stdin one
entry per line, which suits piping a scanner's output straight in.

Examples:
  # Decode a payload
  carcode scan "CC::1:HwIdVRc3FBU="

  # Plain identifiers pass through
  carcode scan TAG-ABC123

  # Decode a scan URL
  carcode scan "https://tags.example.com/scan/TAG-ABC123?src=qr"

  # Show the detected input format as well
  carcode scan --format "CC::1:HwIdVRc3FBU="

  # Batch mode from a file of scans
  carcode scan < scans.txt`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanJsonOutput, "json", false, "output as JSON")
	scanCmd.Flags().BoolVar(&scanShowFormat, "format", false, "show the detected input format")
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "exit with an error when any input is unrecognized")
}

type scanResult struct {
	Input  string `json:"input"`
	TagID  string `json:"tag_id,omitempty"`
	Format string `json:"format"`
}

func runScan(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	inputs := args
	if len(inputs) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				inputs = append(inputs, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return auditCmdComplete(cmd, fmt.Errorf("failed to read stdin: %w", err), started)
		}
	}

	results := make([]scanResult, 0, len(inputs))
	unrecognized := 0
	for _, input := range inputs {
		tagID, err := codecSvc.ParsePayload(input)
		if err != nil {
			return auditCmdComplete(cmd, fmt.Errorf("failed to parse input: %w", err), started)
		}
		if tagID == "" {
			unrecognized++
		}
		results = append(results, scanResult{
			Input:  input,
			TagID:  tagID,
			Format: string(codecSvc.DetectFormat(input)),
		})
	}

	if scanJsonOutput {
		if err := printJSON(results); err != nil {
			return auditCmdComplete(cmd, err, started)
		}
	} else {
		for _, r := range results {
			printScanResult(r)
		}
	}

	if scanStrict && unrecognized > 0 {
		return auditCmdComplete(cmd,
			fmt.Errorf("%d of %d inputs were not recognized", unrecognized, len(results)), started)
	}

	return auditCmdComplete(cmd, nil, started)
}

func printScanResult(r scanResult) {
	value := r.TagID
	if value == "" {
		value = "(unrecognized)"
	}

	if scanShowFormat {
		fmt.Printf("%s\t%s\n", r.Format, value)
	} else {
		fmt.Println(value)
	}
}
