package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/supervisor"
)

func cleanCMD() *cobra.Command {
	var (
		pipe   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "clean [folder]",
		Short: "Run a pipeline's generated cleanup script",
		Long: `Clean executes the {pipeline}_cleanup.sh script a finished run left
behind, deleting the intermediate artifacts it lists. The manifest stays in
place so the script can be regenerated; use reset to drop it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := folderArg(args)

			manifest, err := cleanup.Load(dir, pipe, nil)
			if err != nil {
				return err
			}
			script := manifest.ScriptPath()
			data, err := os.ReadFile(script)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no cleanup script for pipeline %q in %s", pipe, dir)
				}
				return err
			}

			if dryRun {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			streams := supervisor.Streams{Stdout: os.Stdout, Stderr: os.Stderr}
			outcome, err := supervisor.New().Run(ctx, streams, supervisor.Exec("sh", script))
			if err != nil {
				return fmt.Errorf("cleanup script: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleanup script finished in %s\n", outcome.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&pipe, "pipeline", "p", "", "pipeline whose script to run (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the script instead of executing it")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}
