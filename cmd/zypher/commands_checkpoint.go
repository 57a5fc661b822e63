package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CoreSpeed-io/zypher-agent/internal/app"
)

// buildCheckpointCmd creates the "checkpoint" command group for inspecting
// and restoring the Checkpoint Store (C6) out of band from a running agent.
func buildCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and apply workspace checkpoints",
	}
	cmd.AddCommand(buildCheckpointListCmd(), buildCheckpointApplyCmd())
	return cmd
}

func buildCheckpointListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints in the workspace, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointList(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildCheckpointApplyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "apply <checkpoint-id>",
		Short: "Restore the workspace to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointApply(cmd.Context(), configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runCheckpointList(ctx context.Context, configPath string) error {
	a, err := app.Build(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = a.Close(ctx) }()

	checkpoints, err := a.Session.Checkpoints().ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTIMESTAMP\tFILES")
	for _, c := range checkpoints {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Timestamp.Format("2006-01-02T15:04:05Z07:00"), len(c.Files))
	}
	return tw.Flush()
}

func runCheckpointApply(ctx context.Context, configPath, id string) error {
	a, err := app.Build(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = a.Close(ctx) }()

	if err := a.Session.ApplyCheckpoint(ctx, id); err != nil {
		return fmt.Errorf("apply checkpoint: %w", err)
	}
	fmt.Printf("applied checkpoint %s\n", id)
	return nil
}
