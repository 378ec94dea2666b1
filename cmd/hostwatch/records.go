package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/miradorstack/hostwatch/internal/models"
	"github.com/miradorstack/hostwatch/internal/records"
	"github.com/miradorstack/hostwatch/internal/utils"
)

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect or reset persisted restart attempt records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show every failure record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsList(cmd, opts)
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear [service...]",
		Short: "Delete failure records so escalation starts over at attempt 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return utils.WithExitCode(exitConfig, errors.New("name one or more services, or pass --all"))
			}
			return runRecordsClear(cmd, opts, args, all)
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "delete every record")

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}

// openRecords opens the configured backend without the in-memory fallback: an
// operator command against an unreachable store must fail loudly.
func openRecords(opts *rootOptions) (*app, records.Store, error) {
	a, err := bootstrap(opts)
	if err != nil {
		return nil, nil, err
	}
	store, err := records.Open(a.cfg.Records, a.logger)
	if err != nil {
		return nil, nil, utils.WithExitCode(exitFailure, fmt.Errorf("open %s record store: %w", a.cfg.Records.Backend, err))
	}
	return a, store, nil
}

func listRecords(cmd *cobra.Command, store records.Store) ([]models.FailureRecord, error) {
	lister, ok := store.(records.Lister)
	if !ok {
		return nil, errors.New("record backend cannot enumerate records")
	}
	return lister.List(cmd.Context())
}

func runRecordsList(cmd *cobra.Command, opts *rootOptions) error {
	a, store, err := openRecords(opts)
	if err != nil {
		return err
	}
	defer closeStore(a.logger, store)

	recs, err := listRecords(cmd, store)
	if err != nil {
		return utils.WithExitCode(exitFailure, err)
	}

	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "no failure records")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tATTEMPTS\tLAST ATTEMPT\tSTATE")
	for _, rec := range recs {
		state := "retrying"
		switch {
		case rec.Age(now) >= a.cfg.Escalation.ResetWindow:
			state = "expired"
		case rec.AttemptCount >= a.cfg.Escalation.MaxAttempts:
			state = "abandoned"
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\n",
			rec.Service, rec.AttemptCount, a.cfg.Escalation.MaxAttempts,
			humanize.RelTime(rec.LastAttempt, now, "ago", "from now"), state)
	}
	return tw.Flush()
}

func runRecordsClear(cmd *cobra.Command, opts *rootOptions, names []string, all bool) error {
	a, store, err := openRecords(opts)
	if err != nil {
		return err
	}
	defer closeStore(a.logger, store)

	if all {
		recs, err := listRecords(cmd, store)
		if err != nil {
			return utils.WithExitCode(exitFailure, err)
		}
		names = make([]string, 0, len(recs))
		for _, rec := range recs {
			names = append(names, rec.Service)
		}
	}

	var errs error
	for _, name := range names {
		if err := store.Delete(cmd.Context(), name); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		a.logger.Info("failure record cleared", slog.String("service", name))
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", name)
	}
	if errs != nil {
		return utils.WithExitCode(exitFailure, errs)
	}
	return nil
}
