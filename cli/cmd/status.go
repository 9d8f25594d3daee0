package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/carcode/internal/mem"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show codec and store status",
	Long:  "Display information about the codec, memory protection level, and the batch store.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Codec Status")
	fmt.Println("============")

	// Show memory protection
	fmt.Printf("Memory Protection: %s\n", mem.Describe(codecSvc.MemoryProtection()))

	fmt.Printf("Key Source: %s\n", func() string {
		if keyEnv := viper.GetString("codec.key_env"); keyEnv != "" {
			return fmt.Sprintf("environment variable %s", keyEnv)
		}
		return "compiled-in default"
	}())

	// Show store summary
	storeType := viper.GetString("store.type")
	fmt.Printf("Store: %s\n", getStoreConfigSummary(storeType))
	fmt.Printf("Tenant: %s\n", tenantID)

	// Show batch count
	infos, err := issuerSvc.ListBatches()
	if err != nil {
		fmt.Printf("Stored Batches: ERROR - %v\n", err)
	} else {
		labels := 0
		for _, info := range infos {
			labels += info.LabelCount
		}
		fmt.Printf("Stored Batches: %d (Labels: %d)\n", len(infos), labels)
	}

	// Show audit configuration
	if viper.GetBool("audit.enabled") {
		fmt.Printf("Audit: %s (%s)\n",
			viper.GetString("audit.type"),
			viper.GetString("audit.options.file_path"))
	} else {
		fmt.Println("Audit: disabled")
	}

	return nil
}
