package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type harvestOptions struct {
	update     string
	sinceHours int
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	opts := &harvestOptions{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Collects package metadata into the store",
		Long: `Lists every project on the PyPI simple index (or, with --since-hours,
the packages released recently), fetches each one from libraries.io and its
pypi.org project page, and appends the normalized rows to the store in
batches. With --update an existing store is resumed and packages already in
it are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.update, "update", "u", "", "existing store to resume")
	cmd.Flags().IntVar(&opts.sinceHours, "since-hours", 0, "only harvest packages released within this many hours")
	return cmd
}

func runHarvest(cmd *cobra.Command, opts *harvestOptions) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	defer func(start time.Time) { finished(logger, "harvest", start, err) }(time.Now())

	if opts.sinceHours < 0 {
		return fmt.Errorf("--since-hours must be >= 0")
	}
	h, source, err := appInstance.Harvester(time.Duration(opts.sinceHours) * time.Hour)
	if err != nil {
		return err
	}
	appInstance.Track("harvest", func() any { return h.Stats() })
	defer appInstance.Track("harvest", nil)

	path, update := appInstance.Config().Harvest.StorePath, false
	if opts.update != "" {
		path, update = opts.update, true
	}
	logger.Info("harvest starting",
		zap.String("store", path),
		zap.Bool("update", update),
		zap.Int("since_hours", opts.sinceHours),
	)
	stats, err := h.HarvestInto(cmd.Context(), source, path, update)
	logger.Info("harvest summary", zap.Any("stats", stats))
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}
