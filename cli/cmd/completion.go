package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newCmdCompletion creates a new cobra command `completion` which contains
// commands for enabling heaplane auto completion
func newCmdCompletion() *cobra.Command {
	example := `  # bash <= 3.2:
  source /dev/stdin <<< "$(heaplane completion bash)"

  # bash >= 4.0:
  source <(heaplane completion bash)

  # zsh:
  # If shell completion is not already enabled in your environment you will need
  # to enable it.  You can execute the following once:

  echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  heaplane completion zsh > "${fpath[1]}/_heaplane"

  # You will need to start a new shell for this setup to take effect.

  # fish:
  heaplane completion fish | source

  # To load fish shell completions for each session, execute once:
  heaplane completion fish > ~/.config/fish/completions/heaplane.fish`

	cmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Output shell completion code for the specified shell (bash, zsh or fish)",
		Long:      "Output shell completion code for the specified shell (bash, zsh or fish).",
		Example:   example,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getCompletion(args[0], cmd.Parent())
			if err != nil {
				return err
			}

			fmt.Print(out)
			return nil
		},
	}

	return cmd
}

// getCompletion will return the auto completion shell script, if supported
func getCompletion(sh string, parent *cobra.Command) (string, error) {
	var err error
	var buf bytes.Buffer

	switch sh {
	case "bash":
		err = parent.GenBashCompletion(&buf)
	case "zsh":
		err = parent.GenZshCompletion(&buf)
	case "fish":
		err = parent.GenFishCompletion(&buf, true)

	default:
		err = errors.New("unsupported shell type (must be bash, zsh or fish): " + sh)
	}

	if err != nil {
		return "", err
	}

	return buf.String(), nil
}
