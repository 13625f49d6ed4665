package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cx32hal/drivers/cx32flash"
	"cx32hal/errcode"
)

func newInfoCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show geometry, controller state and write protection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				out := cmd.OutOrStdout()
				for _, v := range cx32flash.Variants() {
					fmt.Fprintf(out, "%-12s %6d bytes  page %d  sector %d\n", v.Name, v.FlashSize, v.PageSize, v.SectorSize)
				}
				return nil
			}
			return withSession(cmd, func(s *session) error { return s.info() })
		},
	}
	cmd.Flags().BoolVar(&list, "variants", false, "list known variants and exit")
	return cmd
}

func newEraseCmd() *cobra.Command {
	var mass bool
	cmd := &cobra.Command{
		Use:   "erase [<addr> [pages]]",
		Short: "Erase pages starting at addr, or the whole array with --mass",
		Args: func(cmd *cobra.Command, args []string) error {
			if mass {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, pages, err := eraseArgs(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error { return s.erase(addr, pages, mass) })
		},
	}
	cmd.Flags().BoolVar(&mass, "mass", false, "erase the whole array")
	return cmd
}

func eraseArgs(args []string) (addr, pages uint32, err error) {
	pages = 1
	if len(args) == 0 {
		return 0, 0, nil
	}
	if addr, err = parseU32(args[0]); err != nil {
		return 0, 0, err
	}
	if len(args) > 1 {
		if pages, err = parseU32(args[1]); err != nil {
			return 0, 0, err
		}
	}
	return addr, pages, nil
}

func newProgramCmd() *cobra.Command {
	var (
		width  uint32
		verify bool
		erase  bool
	)
	cmd := &cobra.Command{
		Use:   "program <addr> <file|value>",
		Short: "Program a file, or a single value with --width",
		Example: "  cx32flash -i part.bin program 0x1000 app.bin --erase --verify\n" +
			"  cx32flash -i part.bin program --width 4 0x200 0xCAFEF00D",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseU32(args[0])
			if err != nil {
				return err
			}
			if width == 0 {
				return withSession(cmd, func(s *session) error { return s.writeFile(addr, args[1], verify, erase) })
			}
			v, err := parseU64(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error { return s.programValue(width, addr, v) })
		},
	}
	cmd.Flags().Uint32Var(&width, "width", 0, "program one value of 1, 2, 4 or 8 bytes")
	cmd.Flags().BoolVar(&verify, "verify", false, "read back and compare after a file write")
	cmd.Flags().BoolVar(&erase, "erase", false, "erase the pages the file covers before writing")
	return cmd
}

func newReadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "read <addr> <len>",
		Short: "Hexdump flash contents, or save them raw with --out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseU32(args[0])
			if err != nil {
				return err
			}
			n, err := parseU32(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				if out == "" {
					return s.read(addr, n, s.out, false)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := s.read(addr, n, f, true); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write raw bytes to this file")
	return cmd
}

func newProtectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protect <mask>",
		Short: "Set the sector write-protect mask (bit n locks sector n)",
		Long: "Set the sector write-protect mask (bit n locks sector n).\n" +
			"The mask is saved next to --image as <image>.slock, so a standalone\n" +
			"protect needs an image; inside a script it holds for the session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := parseU32(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				if rootOpts.image == "" {
					return errcode.Wrap(errcode.InvalidParams, "protect", "no --image to keep the mask in")
				}
				return s.protect(mask)
			})
		},
	}
}

func newScriptCmd() *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "script [file]",
		Short: "Run commands from a file (or stdin) against one controller session",
		Long: "Run commands from a file (or stdin) against one controller session.\n" +
			"Each line is one of: info, erase, mass-erase, program, write, load, read, protect, reinit.\n" +
			"Lines starting with # are comments.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withSession(cmd, func(s *session) error { return runScript(s, r, keepGoing) })
		},
	}
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue after a failing line")
	return cmd
}
