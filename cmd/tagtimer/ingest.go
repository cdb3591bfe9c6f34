package main

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tagtimer/internal/app"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the world database from the daily dumps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCore(cmd, false, func(ctx context.Context, c *app.Core) error {
			st, err := c.World.Ingest(ctx)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("world ingested: nations=%d regions=%d passworded=%d founderless=%d took=%s",
				st.Nations, st.Regions, st.Passworded, st.Founderless, st.Took.Round(time.Millisecond))
			return nil
		})
	},
}
