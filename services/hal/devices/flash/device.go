package flashdev

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cx32hal/drivers/cx32flash"
	"cx32hal/errcode"
	"cx32hal/services/hal/internal/core"
	"cx32hal/types"
	"cx32hal/x/timex"
)

// MaxRead bounds a single read verb.
const MaxRead = 4096

// Device is a single-goroutine HAL device for one flash controller.
type Device struct {
	id      string
	addr    core.CapAddr
	res     core.Resources
	port    core.FlashPort
	variant string
	params  Params
	alive   atomic.Bool

	cleanOnce sync.Once

	// Owned by the worker only:
	ctl *cx32flash.Controller

	reqCh chan request
	done  chan struct{}
}

type opCode uint8

const (
	opErase opCode = iota
	opProgram
	opWrite
	opRead
	opStatus
	opReinit
	opProtect
	opStop
)

var verbs = map[opCode]string{
	opErase:   "erase",
	opProgram: "program",
	opWrite:   "write",
	opRead:    "read",
	opStatus:  "status",
	opReinit:  "reinit",
	opProtect: "protect",
}

type request struct {
	op  opCode
	arg any
}

// ---- core.Device interface ----

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	g := d.ctl.Geometry()
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindFlash,
		Name:   d.addr.Name,
		Info: types.Info{SchemaVersion: 1, Driver: "cx32flash", Detail: types.FlashInfo{
			Variant:    d.variant,
			Port:       string(d.port.ID()),
			Size:       g.Size,
			PageSize:   g.PageSize,
			SectorSize: g.SectorSize,
			Pages:      g.Pages(),
			TimeoutTk:  d.ctl.Timeout(),
		}},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.ctl.Init(); err != nil {
		return err
	}
	if d.params.AlarmIRQ {
		d.port.OnIRQ(d.ctl.IRQHandler)
	}
	d.reqCh = make(chan request, 8)
	d.done = make(chan struct{})
	d.alive.Store(true)
	go d.worker(ctx)
	// First status so consumers see a retained value.
	_ = d.send(request{op: opStatus})
	return nil
}

// Close stops the worker. The port stays claimed until the worker has
// exited, so a part stuck mid-operation is never handed to a new device.
func (d *Device) Close() error {
	if !d.alive.CompareAndSwap(true, false) {
		if d.done == nil {
			d.cleanup() // never started
		}
		return nil
	}
	select {
	case d.reqCh <- request{op: opStop}:
	default:
	}
	t := time.NewTimer(300 * time.Millisecond)
	defer t.Stop()
	select {
	case <-d.done:
		d.cleanup()
	case <-t.C:
		println("[flash]", d.id, "worker still busy; port released when it exits")
		go func() {
			<-d.done
			d.cleanup()
		}()
	}
	return nil
}

func (d *Device) cleanup() {
	d.cleanOnce.Do(func() {
		d.port.OnIRQ(nil)
		d.res.Reg.ReleaseFlash(d.id, d.port.ID())
	})
}

func (d *Device) send(req request) core.EnqueueResult {
	if !d.alive.Load() {
		return core.EnqueueResult{OK: false, Error: errcode.Unavailable}
	}
	select {
	case d.reqCh <- req:
		return core.EnqueueResult{OK: true}
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Busy}
	}
}

// Control maps verbs to requests; all controls are enqueue-only and the
// outcome is published as a tagged event named after the verb.
func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.EnqueueResult, error) {
	var (
		req  request
		code errcode.Code
	)
	switch verb {
	case "erase":
		var v types.FlashErase
		if v, code = core.As[types.FlashErase](payload); code == "" && !v.Mass && v.Pages == 0 {
			code = errcode.InvalidPayload
		}
		req = request{op: opErase, arg: v}
	case "program":
		var v types.FlashProgram
		if v, code = core.As[types.FlashProgram](payload); code == "" {
			if _, ok := cx32flash.ProgramTypeForWidth(uint32(v.Width)); !ok {
				code = errcode.InvalidPayload
			}
		}
		req = request{op: opProgram, arg: v}
	case "write":
		var v types.FlashWrite
		if v, code = core.As[types.FlashWrite](payload); code == "" && len(v.Data) == 0 {
			code = errcode.InvalidPayload
		}
		req = request{op: opWrite, arg: v}
	case "read":
		var v types.FlashRead
		if v, code = core.As[types.FlashRead](payload); code == "" && (v.Len == 0 || v.Len > MaxRead) {
			code = errcode.InvalidPayload
		}
		req = request{op: opRead, arg: v}
	case "protect":
		var v types.FlashProtect
		v, code = core.As[types.FlashProtect](payload)
		req = request{op: opProtect, arg: v}
	case "status":
		req = request{op: opStatus}
	case "reinit":
		req = request{op: opReinit}
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
	if code != "" {
		return core.EnqueueResult{OK: false, Error: code}, nil
	}
	return d.send(req), nil
}

// ---- worker ----

func (d *Device) worker(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-d.reqCh:
			if r.op == opStop {
				return
			}
			d.handle(r)
		}
	}
}

func (d *Device) handle(r request) {
	var (
		tag     string
		err     error
		pageErr = cx32flash.NoPageError
	)
	switch r.op {
	case opErase:
		v := r.arg.(types.FlashErase)
		tag = v.Tag
		req := cx32flash.EraseRequest{Type: cx32flash.EraseMass}
		if !v.Mass {
			req = cx32flash.EraseRequest{Type: cx32flash.ErasePages, PageAddress: v.Addr, NbPages: v.Pages}
		}
		pageErr, err = d.ctl.Erase(req)
	case opProgram:
		v := r.arg.(types.FlashProgram)
		tag = v.Tag
		typ, _ := cx32flash.ProgramTypeForWidth(uint32(v.Width))
		err = d.ctl.Program(typ, v.Addr, v.Data)
	case opWrite:
		v := r.arg.(types.FlashWrite)
		tag = v.Tag
		err = d.ctl.ProgramBuffer(v.Addr, v.Data)
		if err == nil && v.Verify {
			err = d.verify(v.Addr, v.Data)
		}
	case opRead:
		v := r.arg.(types.FlashRead)
		buf := make([]byte, v.Len)
		if err = d.ctl.Read(v.Addr, buf); err == nil {
			d.emitEvent("read", types.FlashData{Tag: v.Tag, Addr: v.Addr, Data: buf})
			return
		}
		tag = v.Tag
	case opProtect:
		v := r.arg.(types.FlashProtect)
		tag = v.Tag
		err = d.ctl.SetWriteProtect(v.Mask)
	case opReinit:
		err = d.ctl.Init()
	case opStatus:
		d.publishStatus()
		return
	}

	res := types.FlashOpResult{Tag: tag, Verb: verbs[r.op], OK: err == nil, PageError: pageErr}
	if err != nil {
		res.Error = string(errcode.Of(err))
		println("[flash]", d.id, res.Verb, "failed:", err.Error())
	}
	d.emitEvent(res.Verb, res)
	if err != nil && d.ctl.State() != cx32flash.StateReady {
		// The controller needs reinit; surface it on the status.
		_ = d.res.Pub.Emit(core.Event{Addr: d.addr, TSms: timex.NowMs(), Err: res.Error})
		return
	}
	d.publishStatus()
}

func (d *Device) verify(addr uint32, want []byte) error {
	got := make([]byte, len(want))
	if err := d.ctl.Read(addr, got); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return errcode.Wrap(errcode.VerifyFailed, "write", "read-back differs")
	}
	return nil
}

func (d *Device) publishStatus() {
	ps := d.ctl.Process()
	st := types.FlashStatus{
		State:         d.ctl.State().String(),
		Procedure:     ps.Procedure.String(),
		Address:       ps.Address,
		DataRemaining: ps.DataRemaining,
		ErrorCode:     uint32(ps.ErrorCode),
		Errors:        ps.ErrorCode.Flags(),
	}
	wp, err := d.ctl.WriteProtect()
	if err != nil {
		_ = d.res.Pub.Emit(core.Event{Addr: d.addr, TSms: timex.NowMs(), Err: string(errcode.Of(err))})
		return
	}
	st.WriteProtect = wp
	_ = d.res.Pub.Emit(core.Event{Addr: d.addr, Payload: st, TSms: timex.NowMs()})
}

func (d *Device) emitEvent(tag string, payload any) {
	_ = d.res.Pub.Emit(core.Event{Addr: d.addr, Payload: payload, TSms: timex.NowMs(), IsEvent: true, EventTag: tag})
}

// onAlarm runs from the IRQ handler; it must not block.
func (d *Device) onAlarm(e cx32flash.ErrorCode) {
	d.emitEvent("alarm", types.FlashAlarm{ErrorCode: uint32(e), Errors: e.Flags()})
}
