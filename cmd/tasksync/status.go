package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/models"
)

// statusReport is the data printed by the status command.
type statusReport struct {
	Counts      map[models.OutboxStatus]int `json:"counts"`
	Outstanding []*models.OutboxEntry       `json:"outstanding"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show outbox counts and outstanding entries",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			counts, err := a.outbox.Stats(ctx)
			if err != nil {
				return err
			}
			outstanding, err := a.outbox.Outstanding(ctx)
			if err != nil {
				return err
			}
			if outstanding == nil {
				outstanding = []*models.OutboxEntry{}
			}

			report := statusReport{Counts: counts, Outstanding: outstanding}
			return newFormatter(cmd, opts).Success(report, func(w io.Writer) {
				printStatus(w, report)
			})
		},
	}
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "pending: %d, synced: %d, error: %d\n",
		r.Counts[models.StatusPending], r.Counts[models.StatusSynced], r.Counts[models.StatusError])
	if len(r.Outstanding) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tRECORD\tOP\tSTATUS\tRETRIES\tCREATED\tERROR")
	for _, e := range r.Outstanding {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.RecordID, e.Operation, e.Status, e.Retries,
			e.CreatedAt.Format(time.RFC3339), e.ErrorMessage)
	}
	tw.Flush()
}
