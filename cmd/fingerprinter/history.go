package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fingerprinter/internal/archive"
	"fingerprinter/internal/config"
	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	defaults := config.Defaults()
	var name, dataDir, export string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded change sets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("%w: --name must not be empty", errInvalidConfig)
			}
			layout := store.Layout{DataDir: dataDir, Name: name}
			if export != "" {
				n, err := archive.Export(layout, export)
				if err != nil {
					return err
				}
				okColor.Fprintf(a.stdout, "Exported %d change sets to %s\n", n, export)
				return nil
			}
			entries, err := store.ListHistory(layout)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				noticeColor.Fprintln(a.stdout, "No history.")
				return nil
			}
			for _, e := range entries {
				cs := e.ChangeSet
				fmt.Fprintf(a.stdout, "%s  new=%d deleted=%d changed=%d  %s\n",
					time.Unix(e.Epoch, 0).Local().Format(snapshot.TimeLayout),
					len(cs.Added), len(cs.Deleted), len(cs.Changed), e.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", defaults.Name, "artifact base name")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", defaults.DataDir, "directory holding the artifacts")
	cmd.Flags().StringVar(&export, "export", "", "write baseline, history and patches to this ZIP archive instead of listing")
	return cmd
}
