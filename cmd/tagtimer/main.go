package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tagtimer/internal/app"
	logx "tagtimer/pkg/logx"
)

var (
	cfgPath  string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "tagtimer",
	Short: "NationStates update timing and dispatch",
	Long: `tagtimer estimates when NationStates regions update and paces every
API call and telegram through rate-limited schedulers.

Examples:
  tagtimer run                        # daemon: poll happenings, watch regions
  tagtimer ingest                     # rebuild the world database from the dumps
  tagtimer estimate lazarus osiris    # print ETAs into the update
  tagtimer targets --limit 50         # minor/major times for the first regions`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if noColor {
			pterm.DisableStyling()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "console log level for one-shot commands")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "plain table output")

	rootCmd.AddCommand(runCmd, ingestCmd, estimateCmd, targetsCmd, telegramCmd, versionCmd)
}

// withCore runs fn against the estimation stack with the dispatch
// schedulers running. Ctrl-C cancels it.
func withCore(cmd *cobra.Command, telegrams bool, fn func(ctx context.Context, c *app.Core) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return app.RunCore(ctx, cfgPath, logx.NewConsole(logLevel), telegrams, fn)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
