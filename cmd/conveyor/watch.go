package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/msageha/conveyor/checkpoint"
)

func watchCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [folder]",
		Short: "Tail checkpoint activity in a folder as it happens",
		Long: `Watch follows the folder with fsnotify and prints one line per marker,
flag, or lock transition, which makes a live run's progress visible without
polling. Interrupt to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := folderArg(args)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s (interrupt to stop)\n", dir)

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if desc := describeEvent(event); desc != "" {
						fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), desc)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
				}
			}
		},
	}
	return cmd
}

// describeEvent turns a filesystem event into a human line, or "" for files
// that are not checkpoint state.
func describeEvent(event fsnotify.Event) string {
	name := filepath.Base(event.Name)

	var verb string
	switch {
	case event.Has(fsnotify.Create):
		verb = "+"
	case event.Has(fsnotify.Remove):
		verb = "-"
	default:
		return ""
	}

	if key, status, ok := checkpoint.ParseMarker(name); ok {
		return fmt.Sprintf("%s step %s/%s → %s", verb, key.Pipeline, key.Step, status)
	}
	if pipe, status, ok := checkpoint.ParseFlag(name); ok {
		return fmt.Sprintf("%s pipeline %s → %s", verb, pipe, status)
	}
	if rest, ok := strings.CutPrefix(name, "lock."); ok {
		return fmt.Sprintf("%s step lock %s", verb, rest)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Sprintf("%s run lock %s", verb, name)
	}
	return ""
}
