package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, health counters, and preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				status, err := client.Status(runCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				running := colorize("running", text.FgGreen)
				if !status.Running {
					running = colorize("stopped", text.FgRed)
				}
				fmt.Fprintf(out, "Daemon:   %s\n", running)
				fmt.Fprintf(out, "Database: %s\n", status.DatabasePath)
				fmt.Fprintf(out, "Lock:     %s\n", status.LockFilePath)
				fmt.Fprintln(out)

				health := status.Health
				fmt.Fprintln(out, renderTable(
					[]string{"Projects", "Pending", "Running", "Completed", "Failed", "Active Jobs", "Due Polls"},
					[][]string{{
						strconv.Itoa(health.TotalProjects),
						strconv.Itoa(health.PendingProjects),
						strconv.Itoa(health.RunningProjects),
						strconv.Itoa(health.CompletedProjects),
						strconv.Itoa(health.FailedProjects),
						strconv.Itoa(health.ActiveJobs),
						strconv.Itoa(health.DuePolls),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
				))

				if len(status.Checks) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(status.Checks))
				for _, check := range status.Checks {
					verdict := colorize("ok", text.FgGreen)
					if !check.Passed {
						verdict = colorize("failed", text.FgRed)
					}
					rows = append(rows, []string{check.Name, verdict, check.Detail})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
				return nil
			})
		},
	}
}
