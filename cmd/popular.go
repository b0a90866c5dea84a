package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newPopularCmd creates the 'popular' subcommand.
func newPopularCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "popular",
		Short: "Prints the highest ranked PyPI packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func(start time.Time) { finished(appInstance.Logger(), "popular", start, err) }(time.Now())

			client, err := appInstance.LibrariesIO(appInstance.Retrier())
			if err != nil {
				return err
			}
			results, err := client.PopularPackages(cmd.Context())
			if err != nil {
				return fmt.Errorf("popular: %w", err)
			}
			out := cmd.OutOrStdout()
			for i, r := range results {
				if limit > 0 && i >= limit {
					break
				}
				if _, err := fmt.Fprintf(out, "%s\t%s\n", r.String("rank"), r.String("name")); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many packages (0 = all)")
	return cmd
}
