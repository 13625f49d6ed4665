// Package cx32flash provides register offsets and bitfields for the CX32L003
// FLASH controller.
package cx32flash

const (
	// --- Register offsets from the FLASH controller base ---
	RegCR     uint32 = 0x00 // R/W (BYPASS-gated): OP, BUSY (R), interrupt enables
	RegIFR    uint32 = 0x04 // R: alarm flags
	RegICLR   uint32 = 0x08 // W: flag clear, write 0 to clear
	RegBYPASS uint32 = 0x0C // W: key latch; R: 1 while unlocked
	RegSLOCK  uint32 = 0x10 // R/W (BYPASS-gated): sector lock, 1 = protected

	// --- BYPASS key sequence ---
	Key1    uint32 = 0x5A5A
	Key2    uint32 = 0xA5A5
	KeyLock uint32 = 0x0000

	// Array base in the CPU address map.
	ArrayBase uint32 = 0x0000_0000
)

// CRBits is the control register value.
type CRBits uint32

const (
	CROpMask    CRBits = 0x3
	CRBusy      CRBits = 1 << 4 // read-only
	CRIEProtect CRBits = 1 << 5 // alarm on erase/program of a locked sector
	CRIEPC      CRBits = 1 << 6 // alarm on erase of the page holding the PC
)

// Op is the CR.OP field.
type Op uint8

const (
	OpRead Op = iota
	OpProgram
	OpPageErase
	OpChipErase
)

func (o Op) String() string {
	switch o {
	case OpProgram:
		return "program"
	case OpPageErase:
		return "page_erase"
	case OpChipErase:
		return "chip_erase"
	default:
		return "read"
	}
}

func (b CRBits) Has(flag CRBits) bool { return b&flag != 0 }
func (b CRBits) Op() Op               { return Op(b & CROpMask) }
func (b CRBits) WithOp(o Op) CRBits   { return b&^CROpMask | CRBits(o)&CROpMask }

// IFRBits is the interrupt flag register value.
type IFRBits uint32

const (
	IFProtect IFRBits = 1 << 0
	IFPC      IFRBits = 1 << 1

	ifAll = IFProtect | IFPC
)

func (b IFRBits) Has(flag IFRBits) bool { return b&flag != 0 }

// ClearValue is the ICLR word that clears flag f and leaves the others.
func (f IFRBits) ClearValue() uint32 { return ^uint32(f) }
