package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Fan one project out into a batch of variants",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var count int
	var strategyFile string

	cmd := &cobra.Command{
		Use:   "create <source-project-id>",
		Short: "Create a batch of derived projects from a strategy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var strategy json.RawMessage
			if strategyFile != "" {
				content, err := os.ReadFile(strategyFile)
				if err != nil {
					return fmt.Errorf("read strategy: %w", err)
				}
				if !json.Valid(content) {
					return fmt.Errorf("strategy file is not valid JSON")
				}
				strategy = content
			}
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				resp, err := client.CreateBatch(runCtx, api.CreateBatchRequest{
					SourceProjectID: args[0],
					Count:           count,
					Strategy:        strategy,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created batch %s with %d of %d members\n", shortID(resp.Batch.ID), len(resp.Projects), resp.Batch.TotalCount)
				rows := make([][]string, 0, len(resp.Projects))
				for _, project := range resp.Projects {
					rows = append(rows, []string{shortID(project.ID), project.Name, project.Status})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Status"}, rows, nil))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of batch members to spawn")
	cmd.Flags().StringVar(&strategyFile, "strategy-file", "", "Path to the batch strategy JSON document")
	return cmd
}
