package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	All bool
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [entry-id]",
		Short: "Re-run failed outbox entries",
		Long: `Re-run one outbox entry, or with --all every ERROR entry that has retries
left. Each attempt increments the entry's retry count; entries that reached
sync.max_retries are refused.

Example:
  tasksync retry 0b4f2c9e-5d55-4a35-9a51-4c1b0e3c6a11
  tasksync retry --all`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "retry every failed entry")

	return cmd
}

func runRetry(cmd *cobra.Command, opts *RetryOptions, args []string) error {
	if opts.All == (len(args) == 1) {
		return usageError(apperrors.New(apperrors.ErrInvalid, "give either an entry id or --all"))
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newFormatter(cmd, opts.RootOptions)
	if opts.All {
		result, err := a.outbox.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		return out.Success(result, func(w io.Writer) {
			printBatchResult(w, result)
		})
	}

	entry, err := a.outbox.Retry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return out.Success(entry, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s retries=%d", entry.ID, entry.Status, entry.Retries)
		if entry.ErrorMessage != "" {
			fmt.Fprintf(w, " error=%q", entry.ErrorMessage)
		}
		fmt.Fprintln(w)
	})
}
