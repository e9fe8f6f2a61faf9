package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage production projects",
	}

	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectTriggerCommand(ctx))

	return projectCmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var pipeline string
	var assetID string
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				project, err := client.CreateProject(runCtx, api.CreateProjectRequest{
					Pipeline:    pipeline,
					AssetID:     assetID,
					Name:        args[0],
					Description: description,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s, %s)\n", project.ID, project.Pipeline, project.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "creative", "Pipeline kind (creative or inference)")
	cmd.Flags().StringVar(&assetID, "asset", "", "Source asset identifier (required)")
	cmd.Flags().StringVar(&description, "description", "", "Optional project description")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				projects, err := client.ListProjects(runCtx, statuses...)
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects found")
					return nil
				}
				sort.Slice(projects, func(i, j int) bool {
					return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
				})
				rows := make([][]string, 0, len(projects))
				for _, project := range projects {
					rows = append(rows, []string{
						shortID(project.ID),
						project.Name,
						project.Pipeline,
						project.Status,
						formatTime(project.UpdatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Pipeline", "Status", "Updated"},
					rows,
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by project status (repeatable)")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project details, artifacts, and job history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				project, err := client.GetProject(runCtx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Project:  %s\n", project.ID)
				fmt.Fprintf(out, "Name:     %s\n", project.Name)
				fmt.Fprintf(out, "Pipeline: %s\n", project.Pipeline)
				fmt.Fprintf(out, "Asset:    %s\n", project.AssetID)
				fmt.Fprintf(out, "Status:   %s\n", project.Status)
				if project.BatchID != "" {
					fmt.Fprintf(out, "Batch:    %s\n", project.BatchID)
				}
				if project.Description != "" {
					fmt.Fprintf(out, "Notes:    %s\n", project.Description)
				}

				if len(project.Artifacts) > 0 {
					slots := make([]string, 0, len(project.Artifacts))
					for slot := range project.Artifacts {
						slots = append(slots, slot)
					}
					sort.Strings(slots)
					rows := make([][]string, 0, len(slots))
					for _, slot := range slots {
						rows = append(rows, []string{slot, project.Artifacts[slot]})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable([]string{"Artifact", "Path"}, rows, nil))
				}

				jobs, err := client.ListJobs(runCtx, project.ID)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					detail := job.LastRemoteStatus
					if job.ErrorMessage != "" {
						detail = truncate(job.ErrorMessage, 60)
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", job.ID),
						job.Type,
						job.Status,
						detail,
						formatTime(job.UpdatedAt),
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Type", "Status", "Detail", "Updated"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func newProjectTriggerCommand(ctx *commandContext) *cobra.Command {
	var configJSON string
	var configFile string

	cmd := &cobra.Command{
		Use:   "trigger <project-id> <stage>",
		Short: "Start a creative stage (narration, localization, audio, edit, synthesis)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadStageConfig(configJSON, configFile)
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(runCtx context.Context, client *api.Client) error {
				job, err := client.TriggerStage(runCtx, args[0], args[1], conf)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started %s as job %d\n", job.Type, job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&configJSON, "config-json", "", "Inline stage configuration JSON")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Path to a stage configuration JSON file")
	return cmd
}

func loadStageConfig(inline, file string) (json.RawMessage, error) {
	inline = strings.TrimSpace(inline)
	if inline != "" && file != "" {
		return nil, fmt.Errorf("use either --config-json or --config-file, not both")
	}
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file != "":
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read stage config: %w", err)
		}
		raw = content
	default:
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("stage configuration is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04")
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
