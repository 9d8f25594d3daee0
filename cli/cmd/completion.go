package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `To load completions:

Bash:
   $  source <(carcode completion bash)

  # To load completions for each session, execute once:
  # Linux:
   $  carcode completion bash > /etc/bash_completion.d/carcode
  # macOS:
  $ carcode completion bash >  $ (brew --prefix)/etc/bash_completion.d/carcode

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
   $  echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ carcode completion zsh > "${fpath[1]}/_carcode"

  # You will need to start a new shell for this setup to take effect.

fish:
   $  carcode completion fish | source

  # To load completions for each session, execute once:
   $  carcode completion fish > ~/.config/fish/completions/carcode.fish

PowerShell:
  PS> carcode completion powershell | Out-String | Invoke-Expression

  # To load completions for each session, execute once:
  PS> carcode completion powershell > carcode.ps1
  PS> . carcode.ps1
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run:                   generateCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func generateCompletion(cmd *cobra.Command, args []string) {
	switch args[0] {
	case "bash":
		cmd.Root().GenBashCompletion(os.Stdout)
	case "zsh":
		cmd.Root().GenZshCompletion(os.Stdout)
	case "fish":
		cmd.Root().GenFishCompletion(os.Stdout, true)
	case "powershell":
		cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
	}
}
