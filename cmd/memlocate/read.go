package main

import (
	"memlocate/hexdump"
	"memlocate/process"

	"github.com/spf13/cobra"
)

func newReadCmd(t *target) *cobra.Command {
	var (
		address  string
		size     uint
		asLayout bool
		colorize bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Hexdump target memory, optionally as the configured layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := process.ParseAddress(address)
			if err != nil {
				return err
			}

			opts := hexdump.Options{Color: colorize, Collapse: true}
			out := cmd.OutOrStdout()

			if asLayout {
				s, err := t.session()
				if err != nil {
					return err
				}
				defer s.Close()

				data, err := s.proc.ReadMemory(addr, process.ProcessMemorySize(s.layout.Span()))
				if err != nil {
					return err
				}
				hexdump.Structure(out, s.layout, addr, data, opts)
				return nil
			}

			proc, err := t.open()
			if err != nil {
				return err
			}
			defer proc.Close()

			data, err := proc.ReadMemory(addr, process.ProcessMemorySize(size))
			if err != nil {
				return err
			}
			hexdump.Dump(out, addr, data, opts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "address to read (0x hex or decimal)")
	cmd.Flags().UintVarP(&size, "size", "s", 256, "bytes to read")
	cmd.Flags().BoolVarP(&asLayout, "layout", "l", false, "read one layout span and decode its fields")
	cmd.Flags().BoolVar(&colorize, "color", false, "color field bytes")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
