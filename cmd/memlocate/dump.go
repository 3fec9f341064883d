package main

import (
	"fmt"

	"memlocate/process_blob"

	"github.com/spf13/cobra"
)

func newDumpCmd(t *target) *cobra.Command {
	var (
		output  string
		maxSize uint
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Save the readable memory of a process for offline use with --dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.dumpDir != "" {
				return fmt.Errorf("dump needs a live process, not --dump")
			}
			proc, err := t.open()
			if err != nil {
				return err
			}
			defer proc.Close()

			ctx, cancel := signalContext()
			defer cancel()

			stats, err := process_blob.SaveDump(ctx, proc, output, maxSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d regions to %s (%d unreadable, %d too large, %d read errors)\n",
				stats.Saved, output, stats.NonReadable, stats.TooLarge, stats.ReadErrors)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to write the dump to")
	cmd.Flags().UintVar(&maxSize, "max-region-size", 256*1024*1024, "skip regions larger than this many bytes")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
