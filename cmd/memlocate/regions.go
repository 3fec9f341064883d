package main

import (
	"fmt"

	"memlocate/process"
	"memlocate/region"

	"github.com/spf13/cobra"
)

func newRegionsCmd(t *target) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the regions a discovery pass would scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := t.config()
			if err != nil {
				return err
			}
			proc, err := t.open()
			if err != nil {
				return err
			}
			defer proc.Close()

			f := cfg.Filter()
			if all {
				f = region.Filter{IncludeUncommitted: true}
			}
			regions, err := region.NewEnumerator(proc).List(f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var total process.ProcessMemorySize
			for _, r := range regions {
				fmt.Fprintln(out, r.String())
				total += r.Size
			}
			fmt.Fprintf(out, "%d regions, %d MB\n", len(regions), total/1024/1024)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list every mapped region, ignoring the configured filter")
	return cmd
}
