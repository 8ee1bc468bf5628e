package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/conveyor/internal/inspect"
)

func statusCMD() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [folder]",
		Short: "Show pipelines, step checkpoints, and locks in a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := inspect.Scan(folderArg(args))
			if err != nil {
				return err
			}
			if asJSON {
				return snap.RenderJSON(os.Stdout)
			}
			snap.Render(os.Stdout)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
