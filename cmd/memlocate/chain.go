package main

import (
	"fmt"

	"memlocate/pointerchain"
	"memlocate/process"

	"github.com/spf13/cobra"
)

func newChainCmd(t *target) *cobra.Command {
	var (
		address string
		depth   int
		known   map[string]int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "List static pointer chains that reach the structure",
		Long: `chain searches for pointer chains rooted in the main image that end at the structure. Without
--address the structure is found first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := t.session()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signalContext()
			defer cancel()
			out := cmd.OutOrStdout()

			var addr process.ProcessMemoryAddress
			if address != "" {
				if addr, err = process.ParseAddress(address); err != nil {
					return err
				}
				if _, err := s.layout.Validate(s.proc, addr); err != nil {
					return fmt.Errorf("%s does not hold a valid %s: %w", addr.ToString(), s.layout.Name, err)
				}
			} else {
				res, err := s.engine.Find(ctx, known)
				if err != nil {
					return err
				}
				addr = res.Address()
			}

			if depth < 0 {
				depth = s.cfg.MaxIndirection
			}
			r := pointerchain.New(s.proc,
				pointerchain.WithPointerSize(s.cfg.PointerSize),
				pointerchain.WithMaxBackOffset(s.cfg.MaxBackOffset),
				pointerchain.WithScanOptions(s.cfg.EngineOptions().Scan),
				pointerchain.WithVerify(func(a process.ProcessMemoryAddress) bool {
					_, err := s.layout.Validate(s.proc, a)
					return err == nil
				}),
			)
			chains, err := r.FindStaticReferences(ctx, addr, depth)
			if err != nil {
				return err
			}
			if len(chains) == 0 {
				fmt.Fprintf(out, "No static chain to %s within %d levels\n", addr.ToString(), depth)
				return nil
			}

			fmt.Fprintf(out, "%d chains to %s\n", len(chains), addr.ToString())
			for i, c := range chains {
				if limit > 0 && i >= limit {
					fmt.Fprintf(out, "... %d more\n", len(chains)-limit)
					break
				}
				fmt.Fprintf(out, "  %s\n", c.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "structure address (0x hex or decimal); found first when empty")
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "maximum indirection (default from config)")
	cmd.Flags().StringToInt64VarP(&known, "value", "v", nil, "known field value used when finding the structure")
	cmd.Flags().IntVar(&limit, "limit", 20, "chains to print, 0 for all")
	return cmd
}
