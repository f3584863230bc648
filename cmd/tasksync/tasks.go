package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/models"
)

// NewTasksCommand creates the tasks command.
func NewTasksCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks that are not deleted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.tasks.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			if tasks == nil {
				tasks = []*models.Task{}
			}
			return newFormatter(cmd, opts).Success(tasks, func(w io.Writer) {
				printTasks(w, tasks)
			})
		},
	}
}

func printTasks(w io.Writer, tasks []*models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tUPDATED\tTITLE")
	for _, t := range tasks {
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t[%s]\t%s\t%s\n", t.ID, done, t.UpdatedAt.Format(time.RFC3339), t.Title)
	}
	tw.Flush()
}
