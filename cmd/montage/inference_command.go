package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newInferenceCommand(ctx *commandContext) *cobra.Command {
	inferenceCmd := &cobra.Command{
		Use:   "inference",
		Short: "Run the knowledge extraction pipeline",
	}

	inferenceCmd.AddCommand(newInferenceStartCommand(ctx))
	return inferenceCmd
}

func newInferenceStartCommand(ctx *commandContext) *cobra.Command {
	var characters []string
	var lang string

	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start facts extraction; corpus deployment chains automatically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				job, err := client.StartInference(runCtx, args[0], api.InferenceRequest{
					Characters: characters,
					Lang:       lang,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started %s as job %d\n", job.Type, job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&characters, "character", nil, "Character to analyze (repeatable, required)")
	cmd.Flags().StringVar(&lang, "lang", "zh", "Analysis language tag")
	_ = cmd.MarkFlagRequired("character")
	return cmd
}
