package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/pipeline"
	"github.com/msageha/conveyor/recovery"
)

func resetCMD() *cobra.Command {
	var (
		pipe      string
		withLocks bool
	)

	cmd := &cobra.Command{
		Use:   "reset [folder]",
		Short: "Remove one pipeline's checkpoints, flags, and run documents",
		Long: `Reset removes every marker, flag, recovery arm, cleanup manifest, and
run document a pipeline left in the folder, so its next invocation starts
from a clean slate. Artifacts produced by the pipeline itself are untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := folderArg(args)

			store, err := checkpoint.NewStore(dir)
			if err != nil {
				return err
			}
			if err := store.ClearAll(pipe); err != nil {
				return err
			}
			if err := recovery.Disarm(dir, pipe); err != nil {
				return err
			}
			manifest, err := cleanup.Load(dir, pipe, nil)
			if err != nil {
				return err
			}
			if err := manifest.Reset(); err != nil {
				return err
			}
			if err := pipeline.RemoveRunInfo(dir, pipe); err != nil {
				return err
			}
			if withLocks {
				if err := removeLocks(dir, pipe); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reset pipeline %q in %s\n", pipe, dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&pipe, "pipeline", "p", "", "pipeline name to reset (required)")
	cmd.Flags().BoolVar(&withLocks, "locks", false, "also remove run and step lock files")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

// removeLocks drops the flock file and any step locks. Only safe when no
// run is active, which is the operator's call to make.
func removeLocks(dir, pipe string) error {
	sanitized := checkpoint.Sanitize(pipe)
	paths := []string{filepath.Join(dir, sanitized+".lock")}

	steps, err := filepath.Glob(filepath.Join(dir, "lock."+sanitized+"__*"))
	if err != nil {
		return err
	}
	paths = append(paths, steps...)

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
