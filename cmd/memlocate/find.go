package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"memlocate/hexdump"
	"memlocate/locator"
	"memlocate/pointerchain"
	"memlocate/process"
	"memlocate/retry"
	"memlocate/signature"

	"github.com/spf13/cobra"
)

func newFindCmd(t *target) *cobra.Command {
	var (
		known    map[string]int64
		all      bool
		wait     bool
		dump     bool
		asJSON   bool
		colorize bool
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find the structure, using the cache when it still validates",
		Example: `  memlocate find -n target -v field_a=1500
  memlocate find --dump ./snapshot --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := t.session()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext()
			defer cancel()
			out := cmd.OutOrStdout()

			if all {
				ranked, err := s.engine.Discover(ctx, known)
				if err != nil {
					return err
				}
				for i, c := range ranked {
					fmt.Fprintf(out, "%3d  score %-6d %s  %v\n", i+1, c.Score, c.Candidate.String(), c.Matched)
				}
				return nil
			}

			res, err := findWithRetry(ctx, s, known, wait, out)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(out, res)
			}

			fmt.Fprintf(out, "Found %s at %s\n", s.layout.Name, res.Address().ToString())
			if chain := res.Chain(); chain != nil {
				fmt.Fprintf(out, "Chain %s\n", chain.String())
			}
			printValues(out, res.Candidate().Values)

			if dump {
				data, err := s.proc.ReadMemory(res.Address(), process.ProcessMemorySize(s.layout.Span()))
				if err != nil {
					return err
				}
				hexdump.Structure(out, s.layout, res.Address(), data, hexdump.Options{Color: colorize, Collapse: true})
			}
			return nil
		},
	}

	cmd.Flags().StringToInt64VarP(&known, "value", "v", nil, "known field value, field=value (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "list every ranked candidate instead of confirming one")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "retry with backoff until the structure appears")
	cmd.Flags().BoolVar(&dump, "hexdump", false, "print the structure bytes with fields marked")
	cmd.Flags().BoolVar(&colorize, "color", false, "color field bytes in --hexdump output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func findWithRetry(ctx context.Context, s *session, known map[string]int64, wait bool, out io.Writer) (*locator.ResolvedStructure, error) {
	if !wait {
		return s.engine.Find(ctx, known)
	}

	var res *locator.ResolvedStructure
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		var err error
		res, err = s.engine.Find(ctx, known)
		return err
	}, func(err error) bool {
		return errors.Is(err, locator.ErrNoCandidateFound) || errors.Is(err, locator.ErrDiscoveryTimedOut)
	}, func(attempt int, err error, wait time.Duration) {
		fmt.Fprintf(out, "Attempt %d: %v; retrying in %s\n", attempt, err, wait)
	})
	return res, err
}

func printValues(out io.Writer, values map[string]int64) {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(out, "  %-16s %d\n", n, values[n])
	}
}

// findResult is the --json form of a located structure.
type findResult struct {
	Address   process.ProcessMemoryAddress `json:"address"`
	Values    map[string]int64             `json:"values"`
	Chain     *pointerchain.Descriptor     `json:"chain,omitempty"`
	Signature *signature.Signature         `json:"signature,omitempty"`
}

func newFindResult(addr process.ProcessMemoryAddress, values map[string]int64, chain *pointerchain.Descriptor, sig signature.Signature) findResult {
	r := findResult{Address: addr, Values: values, Chain: chain}
	if !sig.IsZero() {
		r.Signature = &sig
	}
	return r
}

func printJSON(out io.Writer, res *locator.ResolvedStructure) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(newFindResult(res.Address(), res.Candidate().Values, res.Chain(), res.Signature()))
}
