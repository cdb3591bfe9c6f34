package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tagtimer/internal/app"
	"tagtimer/pkg/systemd"
	logx "tagtimer/pkg/logx"
)

var stopTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Long: `Run the happenings poller, the update window refresh and region watch
alerts until interrupted. The config file is watched and reloaded live.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for a graceful shutdown")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	log := a.Core().Log.With(logx.String("comp", "main"))

	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}
	if _, err := systemd.Ready(); err != nil {
		log.Warn("systemd ready notify failed", logx.Err(err))
	}
	wdCtx, wdCancel := context.WithCancel(ctx)
	defer wdCancel()
	go func() {
		if err := systemd.Watchdog(wdCtx, log); err != nil {
			log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
	}()

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	wdCancel()
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
