package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newAuditCmd creates the 'audit' subcommand.
func newAuditCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Repairs rows that break the store schema",
		Long: `Rewrites the store into audit.output with every field normalized:
empty text becomes "none", empty counts become "0", list brackets are
stripped. Rows that cannot be repaired, or that do not have exactly 30
fields, are dropped and counted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func(start time.Time) { finished(appInstance.Logger(), "audit", start, err) }(time.Now())

			if _, err := appInstance.Auditor().Run(file, appInstance.Config().Audit.Output); err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "store to audit (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
