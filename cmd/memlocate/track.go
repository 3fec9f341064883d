package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"memlocate/locator"

	"github.com/spf13/cobra"
)

func newTrackCmd(t *target) *cobra.Command {
	var (
		known  map[string]int64
		fields []string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Find the structure and print its fields until interrupted",
		Long: `track prints one line per read. When the structure stops validating it is searched for again
in the background and tracking resumes at the new address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := t.session()
			if err != nil {
				return err
			}
			defer s.Close()

			for _, f := range fields {
				if _, ok := s.layout.Field(f); !ok {
					return fmt.Errorf("unknown field %q", f)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			out := cmd.OutOrStdout()

			err = s.engine.Track(ctx, known, func(r locator.Reading) {
				fmt.Fprintf(out, "%s %s #%d %s\n", r.At.Format("15:04:05.000"), r.Address.ToString(), r.Generation, formatReading(r.Values, fields))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringToInt64VarP(&known, "value", "v", nil, "known field value, field=value (repeatable)")
	cmd.Flags().StringSliceVarP(&fields, "field", "f", nil, "fields to print (default all)")
	return cmd
}

func formatReading(values map[string]int64, fields []string) string {
	if len(fields) == 0 {
		for n := range values {
			fields = append(fields, n)
		}
		sort.Strings(fields)
	}
	parts := make([]string, 0, len(fields))
	for _, n := range fields {
		parts = append(parts, fmt.Sprintf("%s=%d", n, values[n]))
	}
	return strings.Join(parts, " ")
}
