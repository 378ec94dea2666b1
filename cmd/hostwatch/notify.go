package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/hostwatch/internal/models"
	"github.com/miradorstack/hostwatch/internal/utils"
)

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification channel utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test [message]",
		Short: "Send a test message to the configured webhook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			if a.cfg.Notify.WebhookURL == "" {
				return utils.WithExitCode(exitConfig, errors.New("notify.webhookURL is not set"))
			}
			text := "hostwatch notification test"
			if len(args) == 1 {
				text = args[0]
			}
			if !a.notifier().Notify(cmd.Context(), models.AlertEvent{Severity: models.SeverityInfo, Text: text}) {
				return utils.WithExitCode(exitFailure, errors.New("test notification was not delivered"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "test notification delivered")
			return nil
		},
	})
	return cmd
}
