package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"attachr/internal/app"
	"attachr/internal/config"
	"attachr/internal/logging"
	"attachr/internal/service"

	"github.com/spf13/cobra"
)

type reprocessFunc func(ctx context.Context, params service.ReprocessParams) (service.ReprocessReport, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runWithApp, os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// runWithApp 按环境配置构建附件服务并执行批量重新处理。
func runWithApp(ctx context.Context, params service.ReprocessParams) (service.ReprocessReport, error) {
	cfg, err := config.Load()
	if err != nil {
		return service.ReprocessReport{}, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return service.ReprocessReport{}, err
	}
	defer application.Close()

	return application.Service.Reprocess(ctx, params)
}

func newRootCmd(run reprocessFunc, out io.Writer) *cobra.Command {
	var (
		params     service.ReprocessParams
		asJSON     bool
		failOnErrs bool
	)

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Regenerate attachment styles from stored originals",
		Long: `Regenerate derived styles for every stored attachment, one record at a time.

Examples:
  reprocess                                 # all attachments, all styles
  reprocess --class User --name avatar      # only User avatars
  reprocess --name avatar --styles thumb    # backfill a newly added style`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if params.BatchSize < 0 {
				return fmt.Errorf("--batch-size must not be negative")
			}
			report, err := run(cmd.Context(), params)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "processed: %d  skipped: %d  failed: %d\n", report.Processed, report.Skipped, report.Failed)
				for _, f := range report.Failures {
					fmt.Fprintf(out, "  %s#%s %s: %s\n", f.Class, f.RecordID, f.Name, f.Error)
				}
			}
			if failOnErrs && report.Failed > 0 {
				return fmt.Errorf("%d attachment(s) failed to reprocess", report.Failed)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.Class, "class", "", "only reprocess records of this class")
	flags.StringVar(&params.Name, "name", "", "only reprocess this attachment (default: all defined attachments)")
	flags.StringSliceVar(&params.Styles, "styles", nil, "styles to regenerate (default: all but original)")
	flags.IntVar(&params.BatchSize, "batch-size", 100, "records fetched per page")
	flags.BoolVar(&asJSON, "json", false, "print the report as JSON")
	flags.BoolVar(&failOnErrs, "fail-on-errors", false, "exit non-zero when any record failed")
	return cmd
}
