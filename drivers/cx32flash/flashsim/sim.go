// Package flashsim is a behavioural model of the CX32L003 FLASH controller
// and its NOR array, for host builds and tests.
//
// Modelled:
//   - BYPASS key latch gating CR and SLOCK writes and array writes;
//   - CR.OP selecting program / page erase / chip erase, started by a bus
//     write into the array;
//   - CR.BUSY held for a configurable number of CR reads, or forever;
//   - NOR semantics: erase sets 0xFF, program ANDs;
//   - SLOCK sector protection and the page-holding-PC alarm, raised in IFR
//     and, when enabled in CR, signalled on the IRQ line.
package flashsim

import (
	"errors"
	"sync"

	"cx32hal/drivers/cx32flash"
)

var ErrBusFault = errors.New("bus fault")

// Stats counts bus-visible events.
type Stats struct {
	Unlocks       int
	Locks         int
	Programs      int
	PageErases    int
	ChipErases    int
	IgnoredWrites int // CR/SLOCK/array writes while locked or idle
	Alarms        int
}

// Sim implements cx32flash.Bus.
type Sim struct {
	mu  sync.Mutex
	geo cx32flash.Geometry
	mem []byte

	cr    cx32flash.CRBits
	ifr   cx32flash.IFRBits
	slock uint32

	keyArmed bool
	unlocked bool

	busyPolls int
	busyLeft  int
	stuck     bool

	pc    uint32
	hasPC bool

	irq   func()
	stats Stats
}

// New returns an erased array of geometry g.
func New(g cx32flash.Geometry) *Sim {
	s := &Sim{geo: g, mem: make([]byte, g.Size), busyPolls: 1}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	return s
}

// ---- Test/host controls ----

// SetBusyPolls sets how many CR reads report BUSY after each command.
func (s *Sim) SetBusyPolls(n int) {
	s.mu.Lock()
	s.busyPolls = n
	s.mu.Unlock()
}

// SetStuck makes every subsequent command hold BUSY and have no effect.
// Clearing it also drops a BUSY in progress.
func (s *Sim) SetStuck(v bool) {
	s.mu.Lock()
	s.stuck = v
	if !v {
		s.busyLeft = 0
	}
	s.mu.Unlock()
}

// SetPC places the program counter at addr (code running from flash).
func (s *Sim) SetPC(addr uint32) {
	s.mu.Lock()
	s.pc, s.hasPC = addr, true
	s.mu.Unlock()
}

// ClearPC models code running from RAM.
func (s *Sim) ClearPC() {
	s.mu.Lock()
	s.hasPC = false
	s.mu.Unlock()
}

// ProtectSectors ORs mask into SLOCK without the key sequence.
func (s *Sim) ProtectSectors(mask uint32) {
	s.mu.Lock()
	s.slock |= mask
	s.mu.Unlock()
}

// OnIRQ connects the FLASH IRQ line.
func (s *Sim) OnIRQ(fn func()) {
	s.mu.Lock()
	s.irq = fn
	s.mu.Unlock()
}

// Load copies p into the array as if it had been programmed earlier.
func (s *Sim) Load(addr uint32, p []byte) {
	s.mu.Lock()
	copy(s.mem[addr:], p)
	s.mu.Unlock()
}

// Snapshot returns a copy of the array.
func (s *Sim) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.mem))
	copy(out, s.mem)
	return out
}

func (s *Sim) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unlocked
}

func (s *Sim) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sim) Geometry() cx32flash.Geometry { return s.geo }

// ---- cx32flash.Bus ----

func (s *Sim) ReadReg(off uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case cx32flash.RegCR:
		cr := s.cr
		if s.busyLeft > 0 || s.busyLeft < 0 {
			cr |= cx32flash.CRBusy
			if s.busyLeft > 0 {
				s.busyLeft--
			}
		}
		return uint32(cr), nil
	case cx32flash.RegIFR:
		return uint32(s.ifr), nil
	case cx32flash.RegBYPASS:
		if s.unlocked {
			return 1, nil
		}
		return 0, nil
	case cx32flash.RegSLOCK:
		return s.slock, nil
	case cx32flash.RegICLR:
		return 0, nil
	}
	return 0, ErrBusFault
}

func (s *Sim) WriteReg(off uint32, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case cx32flash.RegBYPASS:
		s.writeKey(v)
	case cx32flash.RegCR:
		if !s.unlocked {
			s.stats.IgnoredWrites++
			return nil
		}
		s.cr = cx32flash.CRBits(v) &^ cx32flash.CRBusy
	case cx32flash.RegICLR:
		s.ifr &= cx32flash.IFRBits(v)
	case cx32flash.RegSLOCK:
		if !s.unlocked {
			s.stats.IgnoredWrites++
			return nil
		}
		s.slock = v
	case cx32flash.RegIFR:
		// read-only
	default:
		return ErrBusFault
	}
	return nil
}

func (s *Sim) writeKey(v uint32) {
	if !s.keyArmed {
		s.keyArmed = v == cx32flash.Key1
		return
	}
	s.keyArmed = false
	switch v {
	case cx32flash.Key2:
		if !s.unlocked {
			s.stats.Unlocks++
		}
		s.unlocked = true
	case cx32flash.KeyLock:
		if s.unlocked {
			s.stats.Locks++
		}
		s.unlocked = false
	}
}

func (s *Sim) ReadMem(addr uint32, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inArray(addr, len(p)) {
		return ErrBusFault
	}
	copy(p, s.mem[addr:])
	return nil
}

func (s *Sim) WriteMem(addr uint32, p []byte) error {
	s.mu.Lock()
	if !s.inArray(addr, len(p)) {
		s.mu.Unlock()
		return ErrBusFault
	}
	fire := s.command(addr, p)
	irq := s.irq
	s.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
	return nil
}

// command runs the operation selected in CR. It reports whether an enabled
// alarm was raised.
func (s *Sim) command(addr uint32, p []byte) bool {
	op := s.cr.Op()
	if !s.unlocked || op == cx32flash.OpRead {
		s.stats.IgnoredWrites++
		return false
	}
	if s.stuck {
		s.busyLeft = -1
		return false
	}
	s.busyLeft = s.busyPolls

	var alarm cx32flash.IFRBits
	switch op {
	case cx32flash.OpProgram:
		if s.protected(addr, uint32(len(p))) {
			alarm = cx32flash.IFProtect
			break
		}
		s.stats.Programs++
		for i, b := range p {
			s.mem[addr+uint32(i)] &= b
		}
	case cx32flash.OpPageErase:
		base := addr &^ (s.geo.PageSize - 1)
		switch {
		case s.protected(base, s.geo.PageSize):
			alarm = cx32flash.IFProtect
		case s.hasPC && s.pc >= base && s.pc-base < s.geo.PageSize:
			alarm = cx32flash.IFPC
		default:
			s.stats.PageErases++
			fill(s.mem[base : base+s.geo.PageSize])
		}
	case cx32flash.OpChipErase:
		switch {
		case s.slock != 0:
			alarm = cx32flash.IFProtect
		case s.hasPC && s.pc < s.geo.Size:
			alarm = cx32flash.IFPC
		default:
			s.stats.ChipErases++
			fill(s.mem)
		}
	}
	if alarm == 0 {
		return false
	}
	s.stats.Alarms++
	s.ifr |= alarm
	enabled := (alarm == cx32flash.IFProtect && s.cr.Has(cx32flash.CRIEProtect)) ||
		(alarm == cx32flash.IFPC && s.cr.Has(cx32flash.CRIEPC))
	return enabled
}

func (s *Sim) protected(addr, n uint32) bool {
	if s.geo.SectorSize == 0 || n == 0 {
		return false
	}
	first := addr / s.geo.SectorSize
	last := (addr + n - 1) / s.geo.SectorSize
	for i := first; i <= last && i < 32; i++ {
		if s.slock&(1<<i) != 0 {
			return true
		}
	}
	return false
}

func (s *Sim) inArray(addr uint32, n int) bool {
	return addr <= s.geo.Size && uint32(n) <= s.geo.Size-addr
}

func fill(p []byte) {
	for i := range p {
		p[i] = 0xFF
	}
}
