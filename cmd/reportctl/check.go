package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

func newCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, validationErr := root.loadConfig(false)
			if cfg == nil {
				return validationErr
			}

			data, err := json.Marshal(cfg.Sanitized())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			out.Write(pretty.Pretty(data))

			if validationErr != nil {
				return fmt.Errorf("configuration is incomplete: %w", validationErr)
			}
			fmt.Fprintln(out, "Configuration OK")
			return nil
		},
	}
}
