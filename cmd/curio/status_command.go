package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"curio/internal/api"
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and queue totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var health api.HealthView
			if err := client.get("/api/health", &health); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			renderHealth(cmd, health)
			return nil
		},
	}
}

func renderHealth(cmd *cobra.Command, health api.HealthView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	state := "healthy"
	color := ansiGreen
	if !health.Healthy {
		state = "unhealthy"
		color = ansiRed
	}
	if colorize {
		state = color + state + ansiReset
	}
	fmt.Fprintf(out, "Daemon: %s\n", state)
	if health.LastTick != "" {
		fmt.Fprintf(out, "Last tick: %s\n", health.LastTick)
	}
	if health.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", health.LastError)
	}
	if health.StalledJobs > 0 {
		fmt.Fprintf(out, "Stalled jobs: %d\n", health.StalledJobs)
	}

	types := make([]string, 0, len(health.Queue))
	for jobType := range health.Queue {
		types = append(types, jobType)
	}
	sort.Strings(types)

	rows := make([][]string, 0, len(types))
	for _, jobType := range types {
		stats := health.Queue[jobType]
		rows = append(rows, []string{
			jobType,
			strconv.Itoa(stats.Queued),
			strconv.Itoa(stats.Running),
			strconv.Itoa(stats.Succeeded),
			strconv.Itoa(stats.Failed),
			strconv.Itoa(stats.Cancelled),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Type", "Queued", "Running", "Succeeded", "Failed", "Cancelled"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	for _, handler := range health.Handlers {
		marker := "ready"
		if !handler.Ready {
			marker = "not ready"
			if handler.Detail != "" {
				marker = fmt.Sprintf("not ready (%s)", handler.Detail)
			}
		}
		fmt.Fprintf(out, "worker %-10s %s\n", handler.Name, marker)
	}
}
