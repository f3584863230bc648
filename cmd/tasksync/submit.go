package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/sync/outbox"
)

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.json>",
		Short: "Apply a batch of outbox entries from a file",
		Long: `Read a JSON array of outbox entries and reconcile it against the local
store, exactly as POST /api/sync/sync-tasks would. Use "-" to read stdin.

Example:
  tasksync submit queued.json --format json`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args[0])
		},
	}
}

func readBatch(cmd *cobra.Command, path string) ([]models.OutboxEntry, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "read batch", err)
	}

	var entries []models.OutboxEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "batch must be a JSON array of outbox entries", err)
	}
	return entries, nil
}

func runSubmit(cmd *cobra.Command, opts *RootOptions, path string) error {
	entries, err := readBatch(cmd, path)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.outbox.SubmitBatch(cmd.Context(), entries)
	if err != nil {
		return err
	}
	return newFormatter(cmd, opts).Success(result, func(w io.Writer) {
		printBatchResult(w, result)
	})
}

func printBatchResult(w io.Writer, result outbox.BatchResult) {
	fmt.Fprintf(w, "synced: %d, failed: %d\n", result.Synced, result.Failed)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
