package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func tasksCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage the upload task queue",
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "Print the number of queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.infra.Queue.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	failed := &cobra.Command{
		Use:   "failed",
		Short: "List failed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := c.infra.Queue.ListFailed(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILE\tSIZE\tCREATED\tERROR")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.FileName, t.Size, t.CreatedAt.Format(time.RFC3339), t.ErrorMessage)
			}
			return w.Flush()
		},
	}

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed task back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.infra.Queue.Retry(cmd.Context(), args[0])
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a failed task and its staged upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.infra.Queue.DeleteFailed(cmd.Context(), args[0])
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every failed task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.infra.Queue.PurgeFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d task(s)\n", n)
			return nil
		},
	}

	drain := &cobra.Command{
		Use:   "drain",
		Short: "Process queued tasks in this process until the queue is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.infra.Prepare(cmd.Context()); err != nil {
				return err
			}
			n, err := c.infra.NewWorker().Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d task(s)\n", n)
			return err
		},
	}

	cmd.AddCommand(pending, failed, retry, del, purge, drain)
	return cmd
}
