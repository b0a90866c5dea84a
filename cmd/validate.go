package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type validateOptions struct {
	file    string
	output  string
	resume  bool
	tmpfile bool
}

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Removes packages that no longer exist on PyPI",
		Long: `Probes every distinct package URL in the store with a HEAD request,
records each result in a checkpoint file, and writes a copy of the store
without the rows whose URL answered 404. Progress survives interruption:
rerun with --resume to continue from the checkpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "store to validate (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "validated store path (default validated_<file>)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue from the checkpoint of an interrupted run")
	cmd.Flags().BoolVar(&opts.tmpfile, "tmpfile", false, "alias for --resume")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// defaultValidatedPath places validated_<name> next to input.
func defaultValidatedPath(input string) string {
	return filepath.Join(filepath.Dir(input), "validated_"+filepath.Base(input))
}

func runValidate(cmd *cobra.Command, opts *validateOptions) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	defer func(start time.Time) { finished(logger, "validate", start, err) }(time.Now())

	output := opts.output
	if output == "" {
		output = defaultValidatedPath(opts.file)
	}
	v := appInstance.Validator()
	appInstance.Track("validate", func() any { return v.Stats() })
	defer appInstance.Track("validate", nil)

	stats, err := v.Run(cmd.Context(), opts.file, output, opts.resume || opts.tmpfile)
	logger.Info("validate summary", zap.Any("stats", stats))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
