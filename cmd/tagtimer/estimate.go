package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tagtimer/internal/app"
	"tagtimer/internal/estimator"
	"tagtimer/internal/updatewindow"
)

var (
	estimateMode string
	estimatePoll bool
	targetsLimit int
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <region>...",
	Short: "Print baseline and corrected ETAs into the update",
	Long: `Print, per region, how far into the update its first nation is reached.
With --poll one happenings request runs first, so a running update
corrects the estimate and fixes the cycle start.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEstimate,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List regions in update order with minor and major times",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

func init() {
	estimateCmd.Flags().StringVarP(&estimateMode, "mode", "m", "", "major or minor (default: update.mode)")
	estimateCmd.Flags().BoolVar(&estimatePoll, "poll", false, "ingest the current happenings before estimating")
	targetsCmd.Flags().IntVarP(&targetsLimit, "limit", "n", 0, "only the first n regions (0 for all)")
}

func runEstimate(cmd *cobra.Command, regions []string) error {
	return withCore(cmd, false, func(ctx context.Context, c *app.Core) error {
		mode := c.Mode
		if estimateMode != "" {
			m, err := updatewindow.ParseMode(estimateMode)
			if err != nil {
				return err
			}
			mode = m
			c.Poller.SetMode(m)
		}
		if err := c.Prepare(ctx); err != nil {
			return err
		}
		if estimatePoll {
			if _, err := c.Poller.Poll(ctx); err != nil {
				return fmt.Errorf("poll: %w", err)
			}
		}
		anchor, hasAnchor := c.Estimator.Anchor()

		rows := pterm.TableData{{"REGION", "BASELINE", "ESTIMATE", "AT (UTC)"}}
		for _, r := range regions {
			base, err := c.Estimator.BaselineETA(ctx, r, mode)
			if estimator.IsResolution(err) {
				rows = append(rows, []string{r, "-", "-", err.Error()})
				continue
			}
			if err != nil {
				return err
			}
			est, err := c.Estimator.EstimateETA(ctx, r, mode)
			if err != nil {
				return err
			}
			at := "-"
			if hasAnchor {
				at = anchor.Add(seconds(est)).UTC().Format("15:04:05")
			}
			rows = append(rows, []string{r, formatClock(base), formatClock(est), at})
		}
		if err := renderTable(cmd.OutOrStdout(), rows); err != nil {
			return err
		}
		if n := len(c.Estimator.Samples()); n > 0 {
			pterm.Info.Printfln("%d variance samples (%s)", n, mode)
		}
		return nil
	})
}

func runTargets(cmd *cobra.Command, _ []string) error {
	return withCore(cmd, false, func(ctx context.Context, c *app.Core) error {
		if err := c.Prepare(ctx); err != nil {
			return err
		}
		minorPace, err := c.Windows.PaceIndex(ctx, updatewindow.Minor)
		if err != nil {
			return err
		}
		majorPace, err := c.Windows.PaceIndex(ctx, updatewindow.Major)
		if err != nil {
			return err
		}
		regions, err := c.Store.ListRegions(ctx, targetsLimit)
		if err != nil {
			return err
		}

		rows := pterm.TableData{{"REGION", "MINOR", "MAJOR", "NATIONS", "FLAGS"}}
		for _, r := range regions {
			minor, major := "-", "-"
			if r.FirstIndex > 0 {
				minor = formatClock(float64(r.FirstIndex) * minorPace)
				major = formatClock(float64(r.FirstIndex) * majorPace)
			}
			rows = append(rows, []string{r.Name, minor, major, strconv.Itoa(r.NumNations), regionFlags(r.Passworded, r.Founderless)})
		}
		return renderTable(cmd.OutOrStdout(), rows)
	})
}

// renderTable prints rows with the first row as header.
func renderTable(w io.Writer, rows pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// formatClock renders seconds into the update as H:MM:SS.
func formatClock(secs float64) string {
	if secs < 0 || math.IsNaN(secs) {
		secs = 0
	}
	total := int64(math.Round(secs))
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

func regionFlags(passworded, founderless bool) string {
	var f string
	if passworded {
		f += "P"
	}
	if founderless {
		f += "F"
	}
	if f == "" {
		return "-"
	}
	return f
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
