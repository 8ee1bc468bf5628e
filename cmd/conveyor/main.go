// Command conveyor inspects and manages pipeline output folders: the
// markers, flags, locks, and cleanup scripts that pipeline binaries leave
// behind.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Inspect and manage pipeline output folders",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(statusCMD(), resetCMD(), cleanCMD(), watchCMD(), initCMD())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyor:", err)
		os.Exit(1)
	}
}

// folderArg resolves the optional positional output folder, defaulting to
// the working directory.
func folderArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
