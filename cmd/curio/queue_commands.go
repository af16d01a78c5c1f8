package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"curio/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePriorityCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var typeFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			query := url.Values{}
			if statusFilter != "" {
				query.Set("status", statusFilter)
			}
			if typeFilter != "" {
				query.Set("type", typeFilter)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/queue"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			var jobs []api.JobView
			if err := client.get(path, &jobs); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					job.Type,
					job.Status,
					designLabel(job.DesignID),
					fmt.Sprintf("%.0f%%", job.Progress.Percent),
					fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
					job.Progress.Message,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Design", "Progress", "Attempts", "Message"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to list")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var job api.JobView
			if err := client.get(fmt.Sprintf("/api/queue/%d", id), &job); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Type)
			fmt.Fprintf(out, "  Status:   %s\n", job.Status)
			if job.DesignID != 0 {
				fmt.Fprintf(out, "  Design:   %d\n", job.DesignID)
			}
			fmt.Fprintf(out, "  Priority: %d\n", job.Priority)
			fmt.Fprintf(out, "  Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
			fmt.Fprintf(out, "  Progress: %.0f%% %s\n", job.Progress.Percent, job.Progress.Message)
			if job.LastError != "" {
				fmt.Fprintf(out, "  Error:    %s\n", job.LastError)
			}
			if job.NotBefore != "" {
				fmt.Fprintf(out, "  Retry at: %s\n", job.NotBefore)
			}
			return nil
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var result struct {
				Status string `json:"status"`
			}
			if err := client.post(fmt.Sprintf("/api/queue/%d/cancel", id), nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d: %s\n", id, result.Status)
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.post(fmt.Sprintf("/api/queue/%d/retry", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued\n", id)
			return nil
		},
	}
}

func newQueuePriorityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <job-id> <priority>",
		Short: "Change a queued job's priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]int{"priority": priority}
			if err := client.post(fmt.Sprintf("/api/queue/%d/priority", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d priority set to %d\n", id, priority)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearQueue(cmd, ctx, "/api/queue/clear")
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove failed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearQueue(cmd, ctx, "/api/queue/clear?failed=true")
		},
	}
}

func clearQueue(cmd *cobra.Command, ctx *commandContext, path string) error {
	client, err := ctx.client()
	if err != nil {
		return err
	}
	var result struct {
		Removed int64 `json:"removed"`
	}
	if err := client.post(path, nil, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", result.Removed)
	return nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func designLabel(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
