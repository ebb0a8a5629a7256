package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/config"
)

func newWatchCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Re-check and re-stitch operations when their files change",
		Long: `Watch configuration files and rebuild the engine on every change.

Each change is debounced, then the configuration is parsed, loaded into a
fresh engine and every operation is stitched. Failures are logged and the
watch goes on. The metrics endpoint is served while watching when
telemetry.metrics.enabled is set.`,
		Example: `  # Watch the configured operations path
  bops watch

  # Watch a directory with a longer debounce
  bops watch ./operations --delay 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sources, err := a.sources(args)
			if err != nil {
				return err
			}

			if err := a.telemetry.StartMetricsServer(ctx); err != nil {
				return err
			}

			loader := a.loader()
			reload := func(ctx context.Context, parsed *config.ParsedConfig) error {
				return a.rebuild(ctx, parsed)
			}

			parsed, err := loader.Parse(ctx, sources...)
			if err != nil {
				return err
			}
			if err := reload(ctx, parsed); err != nil {
				a.logger.WithError(err).Error("Initial configuration is invalid")
			}

			if err := config.NewWatcher(loader, sources, delay).Watch(ctx, reload); err != nil {
				return err
			}

			<-ctx.Done()
			a.logger.Info("Stopped watching")
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", config.DefaultReloadDelay, "debounce delay between a change and the reload")

	return cmd
}

// rebuild replaces the engine with one built from parsed.
func (a *app) rebuild(ctx context.Context, parsed *config.ParsedConfig) error {
	if parsed.HasErrors() {
		for _, e := range parsed.Errors {
			a.logger.WithField("severity", e.Severity).Warn(e.Error())
		}
		return &config.ParseError{Errors: parsed.Errors}
	}

	a.release()

	e, err := a.newEngine(ctx, &parsed.System)
	if err != nil {
		return err
	}
	if err := e.Load(ctx, parsed.System.Operations...); err != nil {
		return err
	}
	execs, err := e.StitchAll(ctx)
	if err != nil {
		return err
	}

	a.logger.WithFields(map[string]any{
		"files":      len(parsed.SourceFiles),
		"operations": len(execs),
	}).Info("Configuration loaded and stitched")
	return nil
}
