package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"cx32hal/drivers/cx32flash"
	"cx32hal/errcode"
	"cx32hal/x/mathx"
)

func (s *session) info() error {
	g := s.ctl.Geometry()
	wp, err := s.ctl.WriteProtect()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "size:          %d bytes\n", g.Size)
	fmt.Fprintf(s.out, "page size:     %d bytes (%d pages)\n", g.PageSize, g.Pages())
	fmt.Fprintf(s.out, "sector size:   %d bytes (%d sectors)\n", g.SectorSize, g.Sectors())
	fmt.Fprintf(s.out, "timeout:       %d ticks\n", s.ctl.Timeout())
	fmt.Fprintf(s.out, "state:         %s\n", s.ctl.State())
	fmt.Fprintf(s.out, "error:         %s\n", s.ctl.GetError())
	fmt.Fprintf(s.out, "write protect: 0x%08X\n", wp)
	return nil
}

func (s *session) erase(addr, pages uint32, mass bool) error {
	req := cx32flash.EraseRequest{Type: cx32flash.ErasePages, PageAddress: addr, NbPages: pages}
	if mass {
		req = cx32flash.EraseRequest{Type: cx32flash.EraseMass}
	}
	s.save = true
	page, err := s.ctl.Erase(req)
	if err != nil {
		if page != cx32flash.NoPageError {
			return fmt.Errorf("page %d (0x%05X): %w", page, page*s.ctl.Geometry().PageSize, err)
		}
		return err
	}
	if mass {
		fmt.Fprintln(s.out, "mass erase done")
	} else {
		fmt.Fprintf(s.out, "erased %d page(s) from 0x%05X\n", pages, addr)
	}
	return nil
}

func (s *session) programValue(width uint32, addr uint32, v uint64) error {
	typ, ok := cx32flash.ProgramTypeForWidth(width)
	if !ok {
		return errcode.Wrap(errcode.InvalidParams, "program", fmt.Sprintf("width %d", width))
	}
	s.save = true
	if err := s.ctl.Program(typ, addr, v); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "programmed %d byte(s) at 0x%05X\n", width, addr)
	return nil
}

// writeBytes programs p page by page and optionally verifies it.
func (s *session) writeBytes(addr uint32, p []byte, verify bool) error {
	s.save = true
	pg := s.ctl.Geometry().PageSize
	total := len(p)
	done := 0
	for done < total {
		// Chunks end on page boundaries so progress lines track pages.
		n := int(pg - (addr+uint32(done))%pg)
		n = mathx.Min(n, total-done)
		if err := s.ctl.ProgramBuffer(addr+uint32(done), p[done:done+n]); err != nil {
			return err
		}
		done += n
		if rootOpts.verbose {
			fmt.Fprintf(s.out, "\rprogrammed %d/%d bytes", done, total)
		}
	}
	if rootOpts.verbose {
		fmt.Fprintln(s.out)
	}
	if verify {
		got := make([]byte, total)
		if err := s.ctl.Read(addr, got); err != nil {
			return err
		}
		if i := mismatch(got, p); i >= 0 {
			return errcode.Wrap(errcode.VerifyFailed, "program",
				fmt.Sprintf("at 0x%05X: read 0x%02X, want 0x%02X", addr+uint32(i), got[i], p[i]))
		}
	}
	fmt.Fprintf(s.out, "wrote %d bytes at 0x%05X\n", total, addr)
	return nil
}

func (s *session) writeFile(addr uint32, path string, verify, erase bool) error {
	p, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if erase && len(p) > 0 {
		if err := s.eraseSpan(addr, uint32(len(p))); err != nil {
			return err
		}
	}
	return s.writeBytes(addr, p, verify)
}

// eraseSpan erases every page touched by [addr, addr+n).
func (s *session) eraseSpan(addr, n uint32) error {
	pg := s.ctl.Geometry().PageSize
	start := mathx.AlignDown(addr, pg)
	return s.erase(start, mathx.CeilDiv(addr+n-start, pg), false)
}

func (s *session) read(addr, n uint32, w io.Writer, raw bool) error {
	// Check the span before sizing the buffer from a user-supplied length.
	if size := s.ctl.Geometry().Size; !mathx.InRange(addr, n, size) {
		return errcode.Wrap(errcode.OutOfRange, "read",
			fmt.Sprintf("span [0x%05X, +%d) outside array of %d bytes", addr, n, size))
	}
	p := make([]byte, n)
	if err := s.ctl.Read(addr, p); err != nil {
		return err
	}
	if raw {
		_, err := w.Write(p)
		return err
	}
	d := hex.Dumper(w)
	if _, err := d.Write(p); err != nil {
		return err
	}
	return d.Close()
}

func (s *session) protect(mask uint32) error {
	s.save = true
	if err := s.ctl.SetWriteProtect(mask); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "write protect 0x%08X\n", mask)
	return nil
}

func (s *session) reinit() error {
	return s.ctl.Init()
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
