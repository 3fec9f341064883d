package main

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"memlocate/hexdump"
	"memlocate/process"
	"memlocate/process_blob"
	"memlocate/region"
	"memlocate/scan"

	"github.com/spf13/cobra"
)

func newAOBCmd(t *target) *cobra.Command {
	var (
		pattern string
		limit   int
	)

	cmd := &cobra.Command{
		Use:     "aob",
		Short:   "Scan for an array of bytes with wildcards",
		Example: `  memlocate aob -p 1234 --pattern "ca fe ?? 01"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			aob, err := process.ParseAOB(pattern)
			if err != nil {
				return fmt.Errorf("failed to parse pattern: %w", err)
			}

			cfg, err := t.config()
			if err != nil {
				return err
			}
			proc, err := t.open()
			if err != nil {
				return err
			}
			defer proc.Close()

			ctx, cancel := signalContext()
			defer cancel()

			var (
				mu      sync.Mutex
				matches []process.ProcessMemoryAddress
			)
			scanner := scan.NewScanner(proc, cfg.EngineOptions().Scan)
			stats, err := scanner.Walk(ctx, region.NewEnumerator(proc).Regions(cfg.Filter()),
				func(ctx context.Context, r region.Region, blob *process_blob.ProcessBlob) error {
					offs, err := scan.FindPattern(blob.Data(), aob)
					if err != nil {
						return err
					}
					mu.Lock()
					for _, off := range offs {
						matches = append(matches, blob.Base()+process.ProcessMemoryAddress(off))
					}
					mu.Unlock()
					return ctx.Err()
				})
			if err != nil {
				return err
			}
			sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found %d matches (%s)\n", len(matches), stats.String())
			for i, m := range matches {
				if limit > 0 && i >= limit {
					fmt.Fprintf(out, "... %d more\n", len(matches)-limit)
					break
				}
				fmt.Fprintf(out, "Match at %s:\n", m.ToString())

				// 16 bytes of context either side
				start := m
				if start >= 16 {
					start -= 16
				}
				data, err := proc.ReadMemory(start, process.ProcessMemorySize(32+len(aob.Pattern)))
				if err != nil {
					continue
				}
				hexdump.Dump(out, start, data, hexdump.Options{})
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "bytes to scan for, e.g. '00 ba ad ?? f0'")
	cmd.Flags().IntVar(&limit, "limit", 32, "matches to print, 0 for all")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}
