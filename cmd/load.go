package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type loadOptions struct {
	file    string
	table   string
	replace bool
}

// newLoadCmd creates the 'load' subcommand.
func newLoadCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Copies a store into a Postgres table",
		Long: `Creates the target table when missing (one TEXT column per store
field) and bulk-copies every full-width row of the store into it. With
--replace the table is truncated first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func(start time.Time) { finished(appInstance.Logger(), "load", start, err) }(time.Now())

			loader, err := appInstance.Loader(cmd.Context(), opts.table)
			if err != nil {
				return err
			}
			defer loader.Close()
			if _, err := loader.Load(cmd.Context(), opts.file, opts.replace); err != nil {
				return fmt.Errorf("load: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "store to load (required)")
	cmd.Flags().StringVar(&opts.table, "table", "", "target table (default tablestore.table)")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "truncate the table before loading")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
