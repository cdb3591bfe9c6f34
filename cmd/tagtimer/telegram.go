package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tagtimer/internal/app"
	"tagtimer/internal/dispatch"
	"tagtimer/internal/messages"
)

var (
	tgTo          string
	tgID          string
	tgKey         string
	tgRecruitment bool
)

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Send API telegrams",
}

var telegramSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Queue one telegram through the cooldown scheduler",
	Long: `Queue one telegram and wait until the API accepts it. The first send
waits out the longest cooldown, as the API requires after a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat := dispatch.CategoryNonRecruitment
		if tgRecruitment {
			cat = dispatch.CategoryRecruitment
		}
		return withCore(cmd, true, func(ctx context.Context, c *app.Core) error {
			err := c.Messages.Send(ctx, messages.Telegram{To: tgTo, TGID: tgID, Key: tgKey, Category: cat})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "telegram %s queued for %s (%s)\n", tgID, tgTo, cat)
			return nil
		})
	},
}

func init() {
	f := telegramSendCmd.Flags()
	f.StringVar(&tgTo, "to", "", "recipient nation")
	f.StringVar(&tgID, "tgid", "", "telegram template id")
	f.StringVar(&tgKey, "key", "", "telegram secret key")
	f.BoolVar(&tgRecruitment, "recruitment", false, "send as a recruitment telegram (longer cooldown)")
	_ = telegramSendCmd.MarkFlagRequired("to")
	telegramCmd.AddCommand(telegramSendCmd)
}
