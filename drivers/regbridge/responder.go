package regbridge

import (
	"encoding/binary"
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

// Target is the bridge-side view of the registers and array
// (cx32flash.Bus has this shape).
type Target interface {
	ReadReg(off uint32) (uint32, error)
	WriteReg(off uint32, v uint32) error
	ReadMem(addr uint32, p []byte) error
	WriteMem(addr uint32, p []byte) error
}

var (
	ErrNACK  = errors.New("i2c: address not acknowledged")
	ErrFrame = errors.New("i2c: malformed bridge frame")
)

// Responder decodes bridge frames and applies them to a Target. It
// implements drivers.I2C, so a Bridge can run against it in-process.
type Responder struct {
	mu   sync.Mutex
	t    Target
	addr uint16
	txs  int
}

var _ drivers.I2C = (*Responder)(nil)

func NewResponder(t Target, addr uint16) *Responder {
	if addr == 0 {
		addr = AddressDefault
	}
	return &Responder{t: t, addr: addr}
}

// Transactions returns the number of frames served.
func (r *Responder) Transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs
}

func (r *Responder) Tx(addr uint16, w, rd []byte) error {
	if addr != r.addr {
		return ErrNACK
	}
	if len(w) < 5 {
		return ErrFrame
	}
	r.mu.Lock()
	r.txs++
	r.mu.Unlock()

	a := binary.LittleEndian.Uint32(w[1:5])
	switch w[0] {
	case CmdReadReg:
		if len(w) != 5 || len(rd) != 4 {
			return ErrFrame
		}
		v, err := r.t.ReadReg(a)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(rd, v)
	case CmdWriteReg:
		if len(w) != 9 {
			return ErrFrame
		}
		return r.t.WriteReg(a, binary.LittleEndian.Uint32(w[5:9]))
	case CmdReadMem:
		if len(w) != 6 || int(w[5]) != len(rd) || len(rd) > MaxChunk {
			return ErrFrame
		}
		return r.t.ReadMem(a, rd)
	case CmdWriteMem:
		switch len(w) - 5 {
		case 1, 2, 4:
		default:
			return ErrFrame
		}
		return r.t.WriteMem(a, w[5:])
	default:
		return ErrFrame
	}
	return nil
}
