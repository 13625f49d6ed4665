package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

// runScript executes one command per line against s. Errors carry the
// line number; with keepGoing the first error is returned at the end.
func runScript(s *session, r io.Reader, keepGoing bool) error {
	sc := bufio.NewScanner(r)
	var first error
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		argv, err := shlex.Split(line)
		if err != nil {
			err = fmt.Errorf("line %d: %w", n, err)
		} else if len(argv) > 0 {
			if err = runLine(s, argv); err != nil {
				err = fmt.Errorf("line %d: %s: %w", n, argv[0], err)
			}
		}
		if err == nil {
			continue
		}
		if !keepGoing {
			return err
		}
		fmt.Fprintln(s.out, "error:", err)
		if first == nil {
			first = err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return first
}

func runLine(s *session, argv []string) error {
	args := argv[1:]
	want := func(lo, hi int) error {
		if len(args) < lo || len(args) > hi {
			return fmt.Errorf("takes %d..%d arguments, got %d", lo, hi, len(args))
		}
		return nil
	}
	switch argv[0] {
	case "info":
		return s.info()
	case "reinit":
		return s.reinit()
	case "mass-erase":
		return s.erase(0, 0, true)
	case "erase":
		if err := want(1, 2); err != nil {
			return err
		}
		addr, pages, err := eraseArgs(args)
		if err != nil {
			return err
		}
		return s.erase(addr, pages, false)
	case "program":
		// program <width> <addr> <value>
		if err := want(3, 3); err != nil {
			return err
		}
		w, err := parseU32(args[0])
		if err != nil {
			return err
		}
		addr, err := parseU32(args[1])
		if err != nil {
			return err
		}
		v, err := parseU64(args[2])
		if err != nil {
			return err
		}
		return s.programValue(w, addr, v)
	case "write":
		// write <addr> <hexbytes> [verify]
		if err := want(2, 3); err != nil {
			return err
		}
		addr, err := parseU32(args[0])
		if err != nil {
			return err
		}
		p, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
		if err != nil {
			return err
		}
		return s.writeBytes(addr, p, len(args) == 3 && args[2] == "verify")
	case "load":
		// load <addr> <file> [verify]; pages are erased first
		if err := want(2, 3); err != nil {
			return err
		}
		addr, err := parseU32(args[0])
		if err != nil {
			return err
		}
		return s.writeFile(addr, args[1], len(args) == 3 && args[2] == "verify", true)
	case "read":
		if err := want(2, 2); err != nil {
			return err
		}
		addr, err := parseU32(args[0])
		if err != nil {
			return err
		}
		n, err := parseU32(args[1])
		if err != nil {
			return err
		}
		return s.read(addr, n, s.out, false)
	case "protect":
		if err := want(1, 1); err != nil {
			return err
		}
		mask, err := parseU32(args[0])
		if err != nil {
			return err
		}
		return s.protect(mask)
	default:
		return fmt.Errorf("unknown command")
	}
}
