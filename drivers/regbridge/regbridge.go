// Package regbridge carries cx32flash.Bus accesses over an I²C register
// window, for driving a target through a debug bridge MCU.
//
// Frame format (all multi-byte fields little-endian):
//
//	ReadReg   w: [0x01 off32]          r: [val32]
//	WriteReg  w: [0x02 off32 val32]
//	ReadMem   w: [0x03 addr32 n]       r: [n bytes], n <= MaxChunk
//	WriteMem  w: [0x04 addr32 data...] data is 1, 2 or 4 bytes
package regbridge

import (
	"encoding/binary"
	"errors"

	"tinygo.org/x/drivers"
)

const (
	// 7-bit I2C address of the bridge.
	AddressDefault = 0x3A

	CmdReadReg  = 0x01
	CmdWriteReg = 0x02
	CmdReadMem  = 0x03
	CmdWriteMem = 0x04

	// MaxChunk is the largest ReadMem payload per transaction.
	MaxChunk = 32
)

var ErrWidth = errors.New("write width must be 1, 2 or 4")

// Bridge implements cx32flash.Bus.
type Bridge struct {
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [9]byte
	r [MaxChunk]byte
}

// New returns a Bridge at addr (0 => AddressDefault).
func New(i2c drivers.I2C, addr uint16) *Bridge {
	if addr == 0 {
		addr = AddressDefault
	}
	return &Bridge{i2c: i2c, addr: addr}
}

func (b *Bridge) header(cmd byte, a uint32) {
	b.w[0] = cmd
	binary.LittleEndian.PutUint32(b.w[1:5], a)
}

func (b *Bridge) ReadReg(off uint32) (uint32, error) {
	b.header(CmdReadReg, off)
	if err := b.i2c.Tx(b.addr, b.w[:5], b.r[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.r[:4]), nil
}

func (b *Bridge) WriteReg(off uint32, v uint32) error {
	b.header(CmdWriteReg, off)
	binary.LittleEndian.PutUint32(b.w[5:9], v)
	return b.i2c.Tx(b.addr, b.w[:9], nil)
}

func (b *Bridge) ReadMem(addr uint32, p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if n > MaxChunk {
			n = MaxChunk
		}
		b.header(CmdReadMem, addr)
		b.w[5] = byte(n)
		if err := b.i2c.Tx(b.addr, b.w[:6], b.r[:n]); err != nil {
			return err
		}
		copy(p, b.r[:n])
		p = p[n:]
		addr += uint32(n)
	}
	return nil
}

func (b *Bridge) WriteMem(addr uint32, p []byte) error {
	switch len(p) {
	case 1, 2, 4:
	default:
		return ErrWidth
	}
	b.header(CmdWriteMem, addr)
	n := copy(b.w[5:], p)
	return b.i2c.Tx(b.addr, b.w[:5+n], nil)
}
