package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and revise jobs",
	}

	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobReviseCommand(ctx))

	return jobCmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				jobs, err := client.ListJobs(runCtx, args[0])
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.Type,
						job.Status,
						job.RemoteTaskID,
						job.LastRemoteStatus,
						formatTime(job.UpdatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Status", "Task", "Remote", "Updated"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func newJobReviseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revise <job-id>",
		Short: "Reopen a completed job, backing up its artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				result, err := client.Revise(runCtx, jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d reopened; previous artifact backed up to %s\n", result.JobID, result.BackupPath)
				return nil
			})
		},
	}
}
