package cx32flash

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"cx32hal/errcode"
	"cx32hal/x/mathx"
	"cx32hal/x/timex"
)

const (
	// DefaultTimeout is the busy-wait ceiling in clock ticks.
	DefaultTimeout uint32 = 50_000
	// MaxDelay disables the ceiling.
	MaxDelay uint32 = 0xFFFF_FFFF
)

// Bus is the access path to the controller registers and the array.
// WriteMem issues a single bus write of len(p) bytes (1, 2 or 4).
type Bus interface {
	ReadReg(off uint32) (uint32, error)
	WriteReg(off uint32, v uint32) error
	ReadMem(addr uint32, p []byte) error
	WriteMem(addr uint32, p []byte) error
}

// Config is the driver configuration.
type Config struct {
	Geometry Geometry
	Timeout  uint32      // ticks; 0 => DefaultTimeout
	Clock    timex.Clock // nil => millisecond tick clock

	// EnableAlarmIRQ sets the CR alarm interrupt enables in Init.
	// The platform routes the FLASH IRQ to IRQHandler.
	EnableAlarmIRQ bool
	ErrorCallback  func(ErrorCode)

	Logger Logger
}

// DefaultConfig returns the configuration for the default variant.
func DefaultConfig() Config {
	return Config{
		Geometry: MustGeometry(DefaultVariant),
		Timeout:  DefaultTimeout,
	}
}

// Controller drives one FLASH controller instance.
type Controller struct {
	bus Bus
	cfg Config
	clk timex.Clock
	log Logger

	// Held from acquire to release; a second caller gets errcode.Busy.
	inUse atomic.Bool

	// IFR bits latched by IRQHandler while an operation polls.
	pending atomic.Uint32
	errs    atomic.Uint32

	mu    sync.Mutex // proc, state
	proc  ProcessState
	state State
}

// New constructs a Controller. Call Init before the first operation.
func New(bus Bus, cfg Config) *Controller {
	if bus == nil {
		panic("cx32flash: nil bus")
	}
	if !cfg.Geometry.valid() {
		cfg.Geometry = MustGeometry(DefaultVariant)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Controller{bus: bus, cfg: cfg, clk: cfg.Clock, log: cfg.Logger}
	if c.clk == nil {
		c.clk = timex.NewTickClock()
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	return c
}

// Introspection.
func (c *Controller) Geometry() Geometry { return c.cfg.Geometry }
func (c *Controller) Timeout() uint32    { return c.cfg.Timeout }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Process returns a snapshot of the process state.
func (c *Controller) Process() ProcessState {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	p.Locked = c.inUse.Load()
	p.ErrorCode = c.GetError()
	return p
}

// GetError returns the sticky error bitmask. Only Init clears it.
func (c *Controller) GetError() ErrorCode { return ErrorCode(c.errs.Load()) }

// Init resets the process state and the sticky error, clears pending
// alarm flags and programs the alarm interrupt enables.
func (c *Controller) Init() (err error) {
	const op = "init"
	if !c.inUse.CompareAndSwap(false, true) {
		return errcode.Wrap(errcode.Busy, op, "operation in flight")
	}
	defer c.inUse.Store(false)

	c.errs.Store(0)
	c.pending.Store(0)
	if err := c.bus.WriteReg(RegICLR, ifAll.ClearValue()); err != nil {
		return c.ioErr(op, err)
	}
	if err := c.unlock(); err != nil {
		return c.ioErr(op, err)
	}
	defer c.relock(op, &err)

	var cr CRBits
	if c.cfg.EnableAlarmIRQ {
		cr |= CRIEProtect | CRIEPC
	}
	if err := c.bus.WriteReg(RegCR, uint32(cr)); err != nil {
		return c.ioErr(op, err)
	}

	c.mu.Lock()
	c.proc = ProcessState{}
	c.state = StateReady
	c.mu.Unlock()
	c.log.Debug("flash init", "size", c.cfg.Geometry.Size, "irq", c.cfg.EnableAlarmIRQ)
	return nil
}

// DeInit disables the alarm interrupts and returns the handle to reset.
func (c *Controller) DeInit() (err error) {
	const op = "deinit"
	if !c.inUse.CompareAndSwap(false, true) {
		return errcode.Wrap(errcode.Busy, op, "operation in flight")
	}
	defer c.inUse.Store(false)

	if err := c.unlock(); err != nil {
		return c.ioErr(op, err)
	}
	defer c.relock(op, &err)
	if err := c.bus.WriteReg(RegCR, 0); err != nil {
		return c.ioErr(op, err)
	}
	c.mu.Lock()
	c.proc = ProcessState{}
	c.state = StateReset
	c.mu.Unlock()
	return nil
}

// Erase erases NbPages pages starting at PageAddress, or the whole array.
// On failure the returned page is the index of the page that failed,
// otherwise NoPageError.
func (c *Controller) Erase(req EraseRequest) (pageErr uint32, err error) {
	const op = "erase"
	pageErr = NoPageError
	geo := c.cfg.Geometry

	proc := ProcMassErase
	switch req.Type {
	case EraseMass:
	case ErasePages:
		proc = ProcPageErase
		if req.NbPages == 0 {
			return pageErr, errcode.Wrap(errcode.InvalidParams, op, "page count is zero")
		}
		if !mathx.Aligned(req.PageAddress, geo.PageSize) {
			return pageErr, errcode.Wrap(errcode.Misaligned, op,
				fmt.Sprintf("address 0x%05X is not a multiple of %d", req.PageAddress, geo.PageSize))
		}
		if req.NbPages > geo.Pages() || !mathx.InRange(req.PageAddress, req.NbPages*geo.PageSize, geo.Size) {
			return pageErr, errcode.Wrap(errcode.OutOfRange, op,
				fmt.Sprintf("pages [0x%05X, +%d) exceed array of %d bytes", req.PageAddress, req.NbPages, geo.Size))
		}
	default:
		return pageErr, errcode.Wrap(errcode.InvalidParams, op, "unknown erase type")
	}

	if err := c.acquire(op); err != nil {
		return pageErr, err
	}
	defer c.release()

	remaining := uint32(1)
	if proc == ProcPageErase {
		remaining = req.NbPages
	}
	c.begin(proc, req.PageAddress, remaining, 0)
	defer func() { c.finish(err) }()

	if err := c.waitLastOperation(op, req.PageAddress); err != nil {
		return pageErr, err
	}
	if err := c.unlock(); err != nil {
		return pageErr, c.ioErr(op, err)
	}
	defer c.relock(op, &err)
	defer c.setOp(op, OpRead, &err)

	if proc == ProcMassErase {
		c.log.Info("flash mass erase")
		if err := c.trigger(op, OpChipErase, ArrayBase); err != nil {
			return pageErr, err
		}
		return pageErr, nil
	}

	for i := uint32(0); i < req.NbPages; i++ {
		addr := req.PageAddress + i*geo.PageSize
		c.advance(addr, req.NbPages-i)
		if err := c.trigger(op, OpPageErase, addr); err != nil {
			return addr / geo.PageSize, err
		}
	}
	c.log.Debug("flash page erase", "addr", req.PageAddress, "pages", req.NbPages)
	return pageErr, nil
}

// Program writes the low Width() bytes of data at addr, little-endian.
// Programming only clears bits: the result is old & new.
func (c *Controller) Program(typ ProgramType, addr uint32, data uint64) (err error) {
	const op = "program"
	w := typ.Width()
	if w == 0 {
		return errcode.Wrap(errcode.InvalidParams, op, "unknown program type")
	}
	if !mathx.InRange(addr, w, c.cfg.Geometry.Size) {
		return errcode.Wrap(errcode.OutOfRange, op,
			fmt.Sprintf("address 0x%05X width %d outside array of %d bytes", addr, w, c.cfg.Geometry.Size))
	}
	if !mathx.Aligned(addr, w) {
		return errcode.Wrap(errcode.Misaligned, op, fmt.Sprintf("address 0x%05X width %d", addr, w))
	}

	if err := c.acquire(op); err != nil {
		return err
	}
	defer c.release()

	words := uint32(1)
	if typ == ProgramDoubleWord {
		words = 2
	}
	c.begin(typ.procedure(), addr, words, data)
	defer func() { c.finish(err) }()

	if err := c.waitLastOperation(op, addr); err != nil {
		return err
	}
	if err := c.unlock(); err != nil {
		return c.ioErr(op, err)
	}
	defer c.relock(op, &err)
	defer c.setOp(op, OpRead, &err)

	if err := c.setOp(op, OpProgram, nil); err != nil {
		return err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], data)
	if typ != ProgramDoubleWord {
		return c.write(op, addr, buf[:w])
	}
	// 32-bit bus: two word writes, low word first.
	if err := c.write(op, addr, buf[:4]); err != nil {
		return err
	}
	c.advance(addr+4, 1)
	return c.write(op, addr+4, buf[4:8])
}

// ProgramBuffer programs p at addr using the widest naturally aligned
// width for each step.
func (c *Controller) ProgramBuffer(addr uint32, p []byte) error {
	if !mathx.InRange(addr, uint32(len(p)), c.cfg.Geometry.Size) {
		return errcode.Wrap(errcode.OutOfRange, "program",
			fmt.Sprintf("span [0x%05X, +%d) outside array", addr, len(p)))
	}
	for len(p) > 0 {
		var w uint32 = 1
		switch {
		case len(p) >= 4 && mathx.Aligned(addr, 4):
			w = 4
		case len(p) >= 2 && mathx.Aligned(addr, 2):
			w = 2
		}
		typ, _ := ProgramTypeForWidth(w)
		var v uint64
		for i := int(w) - 1; i >= 0; i-- {
			v = v<<8 | uint64(p[i])
		}
		if err := c.Program(typ, addr, v); err != nil {
			return err
		}
		addr += w
		p = p[w:]
	}
	return nil
}

// SetWriteProtect writes the sector lock mask (bit n protects sector n).
func (c *Controller) SetWriteProtect(mask uint32) (err error) {
	const op = "write_protect"
	if n := c.cfg.Geometry.Sectors(); n < 32 && mask>>n != 0 {
		return errcode.Wrap(errcode.OutOfRange, op, fmt.Sprintf("mask 0x%X covers more than %d sectors", mask, n))
	}
	if err := c.acquire(op); err != nil {
		return err
	}
	defer c.release()
	if err := c.unlock(); err != nil {
		return c.ioErr(op, err)
	}
	defer c.relock(op, &err)
	if err := c.bus.WriteReg(RegSLOCK, mask); err != nil {
		return c.ioErr(op, err)
	}
	return nil
}

// WriteProtect reads the sector lock mask.
func (c *Controller) WriteProtect() (uint32, error) {
	v, err := c.bus.ReadReg(RegSLOCK)
	if err != nil {
		return 0, c.ioErr("write_protect", err)
	}
	return v, nil
}

// IRQHandler services the FLASH alarm interrupt: it latches the IFR bits
// into the sticky error, clears them and invokes the error callback.
func (c *Controller) IRQHandler() {
	v, err := c.bus.ReadReg(RegIFR)
	if err != nil {
		c.log.Error("flash irq: read IFR", "err", err)
		return
	}
	f := IFRBits(v) & ifAll
	if f == 0 {
		return
	}
	c.pending.Or(uint32(f))
	c.errs.Or(uint32(errorFromFlags(f)))
	if err := c.bus.WriteReg(RegICLR, f.ClearValue()); err != nil {
		c.log.Error("flash irq: clear IFR", "err", err)
	}
	if cb := c.cfg.ErrorCallback; cb != nil {
		cb(errorFromFlags(f))
	}
}

// ---- Reads (no lock, no wait) ----

func (c *Controller) ReadByte(addr uint32) (uint8, error) {
	var b [1]byte
	if err := c.readAligned(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Controller) ReadHalfWord(addr uint32) (uint16, error) {
	var b [2]byte
	if err := c.readAligned(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (c *Controller) ReadWord(addr uint32) (uint32, error) {
	var b [4]byte
	if err := c.readAligned(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Read copies len(p) bytes starting at addr.
func (c *Controller) Read(addr uint32, p []byte) error {
	if !mathx.InRange(addr, uint32(len(p)), c.cfg.Geometry.Size) {
		return errcode.Wrap(errcode.OutOfRange, "read", fmt.Sprintf("span [0x%05X, +%d)", addr, len(p)))
	}
	if err := c.bus.ReadMem(ArrayBase+addr, p); err != nil {
		return c.ioErr("read", err)
	}
	return nil
}

func (c *Controller) readAligned(addr uint32, p []byte) error {
	n := uint32(len(p))
	if !mathx.InRange(addr, n, c.cfg.Geometry.Size) {
		return errcode.Wrap(errcode.OutOfRange, "read", fmt.Sprintf("address 0x%05X", addr))
	}
	if !mathx.Aligned(addr, n) {
		return errcode.Wrap(errcode.Misaligned, "read", fmt.Sprintf("address 0x%05X width %d", addr, n))
	}
	if err := c.bus.ReadMem(ArrayBase+addr, p); err != nil {
		return c.ioErr("read", err)
	}
	return nil
}
