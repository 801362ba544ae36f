package cmd

import (
	"fmt"

	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate <settings file>",
	Short: "Validate an unlock settings file and print the effective settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := config.NewFromFile(args[0])
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(source.Current())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", source.Path(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
