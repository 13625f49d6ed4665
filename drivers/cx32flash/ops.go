package cx32flash

import (
	"fmt"

	"cx32hal/errcode"
)

// TimeoutError reports a busy flag that did not clear within the ceiling.
type TimeoutError struct {
	Op      string
	Addr    uint32
	Elapsed uint32 // ticks polled before giving up
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout: busy after %d ticks at 0x%05X", e.Op, e.Elapsed, e.Addr)
}
func (e *TimeoutError) Code() errcode.Code { return errcode.Timeout }
func (e *TimeoutError) Is(target error) bool {
	c, ok := target.(errcode.Code)
	return ok && c == errcode.Timeout
}

// ---- Ownership ----

func (c *Controller) acquire(op string) error {
	if !c.inUse.CompareAndSwap(false, true) {
		return errcode.Wrap(errcode.Busy, op, "operation in flight")
	}
	c.mu.Lock()
	st, proc := c.state, c.proc.Procedure
	c.mu.Unlock()

	var err error
	switch {
	case proc != ProcNone:
		err = errcode.Wrap(errcode.Busy, op, "procedure "+proc.String()+" on going")
	case st == StateReset:
		err = errcode.Wrap(errcode.NotReady, op, "not initialised")
	case st == StateTimeout, st == StateError:
		err = errcode.Wrap(errcode.NotReady, op, "re-init required after "+st.String())
	}
	if err != nil {
		c.inUse.Store(false)
	}
	return err
}

func (c *Controller) release() { c.inUse.Store(false) }

func (c *Controller) begin(p Procedure, addr, remaining uint32, data uint64) {
	c.pending.Store(0)
	c.mu.Lock()
	c.proc = ProcessState{Procedure: p, Address: addr, DataRemaining: remaining, Data: data}
	c.state = StateBusy
	c.mu.Unlock()
}

func (c *Controller) advance(addr, remaining uint32) {
	c.mu.Lock()
	c.proc.Address = addr
	c.proc.DataRemaining = remaining
	c.mu.Unlock()
}

func (c *Controller) finish(err error) {
	c.mu.Lock()
	proc := c.proc.Procedure
	c.proc = ProcessState{}
	switch errcode.Of(err) {
	case errcode.OK:
		c.state = StateReady
	case errcode.Timeout:
		c.state = StateTimeout
	default:
		c.state = StateError
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Error("flash operation failed", "proc", proc.String(), "err", err)
	}
}

// ---- Register protection ----

func (c *Controller) unlock() error {
	if err := c.bus.WriteReg(RegBYPASS, Key1); err != nil {
		return err
	}
	return c.bus.WriteReg(RegBYPASS, Key2)
}

// relock runs on every exit path; a failure is reported only if nothing
// else failed first.
func (c *Controller) relock(op string, errp *error) {
	err := c.bus.WriteReg(RegBYPASS, Key1)
	if err == nil {
		err = c.bus.WriteReg(RegBYPASS, KeyLock)
	}
	if err != nil && *errp == nil {
		*errp = c.ioErr(op, err)
	}
}

// setOp rewrites CR.OP and keeps the interrupt enables.
func (c *Controller) setOp(op string, o Op, errp *error) error {
	cr, err := c.bus.ReadReg(RegCR)
	if err == nil {
		err = c.bus.WriteReg(RegCR, uint32((CRBits(cr)&^CRBusy).WithOp(o)))
	}
	if err != nil {
		err = c.ioErr(op, err)
		if errp != nil && *errp == nil {
			*errp = err
		}
	}
	return err
}

// ---- Commands ----

// trigger selects o and starts it with a dummy write inside the target.
func (c *Controller) trigger(op string, o Op, addr uint32) error {
	if err := c.setOp(op, o, nil); err != nil {
		return err
	}
	var dummy [4]byte
	return c.write(op, addr, dummy[:])
}

// write issues one bus write into the array and waits for it to finish.
func (c *Controller) write(op string, addr uint32, p []byte) error {
	if err := c.bus.WriteMem(ArrayBase+addr, p); err != nil {
		return c.ioErr(op, err)
	}
	if err := c.waitLastOperation(op, addr); err != nil {
		return err
	}
	return c.checkAlarms(op, addr)
}

// waitLastOperation polls CR.BUSY until it clears or the clock has
// advanced by the configured ceiling.
func (c *Controller) waitLastOperation(op string, addr uint32) error {
	start := c.clk.Ticks()
	for {
		cr, err := c.bus.ReadReg(RegCR)
		if err != nil {
			return c.ioErr(op, err)
		}
		if !CRBits(cr).Has(CRBusy) {
			return nil
		}
		if c.cfg.Timeout == MaxDelay {
			continue
		}
		if el := c.clk.Ticks() - start; el >= c.cfg.Timeout {
			return &TimeoutError{Op: op, Addr: addr, Elapsed: el}
		}
	}
}

// checkAlarms folds hardware flags and IRQ-latched flags into the sticky
// error and clears the hardware flags.
func (c *Controller) checkAlarms(op string, addr uint32) error {
	v, err := c.bus.ReadReg(RegIFR)
	if err != nil {
		return c.ioErr(op, err)
	}
	hw := IFRBits(v) & ifAll
	f := hw | IFRBits(c.pending.Swap(0))
	if f == 0 {
		return nil
	}
	c.errs.Or(uint32(errorFromFlags(f)))
	if hw != 0 {
		if err := c.bus.WriteReg(RegICLR, hw.ClearValue()); err != nil {
			return c.ioErr(op, err)
		}
	}
	msg := fmt.Sprintf("address 0x%05X", addr)
	if f.Has(IFProtect) {
		return errcode.Wrap(errcode.WriteProtected, op, msg)
	}
	return errcode.Wrap(errcode.ContainsPC, op, msg)
}

func (c *Controller) ioErr(op string, err error) error {
	code := errcode.Of(err)
	if code == errcode.OK {
		code = errcode.Error
	}
	return &errcode.E{C: code, Op: op, Msg: err.Error(), Err: err}
}
