package cmd

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvest/internal/storage"
)

// newPublishCmd creates the 'publish' subcommand.
func newPublishCmd() *cobra.Command {
	var file, name string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Uploads a finished store to the configured blob store",
		Long: `Uploads the store to publish.provider (a local directory or a GCS
bucket) under <publish.prefix>/<run id>/<name>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			defer func(start time.Time) { finished(logger, "publish", start, err) }(time.Now())

			store, release, err := appInstance.BlobStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, release()) }()

			runID, err := appInstance.NewRunID()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(file)
			}
			objectPath := storage.ObjectPath(appInstance.Config().Publish.Prefix, runID, name)
			uri, err := storage.PublishFile(cmd.Context(), store, file, objectPath)
			if err != nil {
				return err
			}
			logger.Info("store published", zap.String("file", file), zap.String("uri", uri), zap.String("run_id", runID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "store to publish (required)")
	cmd.Flags().StringVar(&name, "name", "", "object name (default the file name)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
