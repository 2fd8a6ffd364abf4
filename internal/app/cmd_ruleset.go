package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"opsdiag/internal/classify"
)

// newRulesetCommand prints the effective keyword ruleset as YAML, which is also
// the starting point for a custom --ruleset file.
func newRulesetCommand(_ *rootFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ruleset",
		Short: "Print the keyword ruleset as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules := classify.DefaultRuleSet()
			if path != "" {
				loaded, err := classify.LoadRuleSet(path)
				if err != nil {
					return err
				}
				rules = loaded
			}
			data, err := classify.WriteRuleSet(rules)
			if err != nil {
				return fmt.Errorf("encode ruleset: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "ruleset", "", "Validate and print this ruleset instead of the built-in one")
	return cmd
}
