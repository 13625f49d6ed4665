package cx32flash

import "strings"

// Procedure is the operation currently owning the controller.
type Procedure uint8

const (
	ProcNone Procedure = iota
	ProcPageErase
	ProcMassErase
	ProcProgramByte
	ProcProgramHalfWord
	ProcProgramWord
	ProcProgramDoubleWord
)

func (p Procedure) String() string {
	switch p {
	case ProcPageErase:
		return "page_erase"
	case ProcMassErase:
		return "mass_erase"
	case ProcProgramByte:
		return "program_byte"
	case ProcProgramHalfWord:
		return "program_halfword"
	case ProcProgramWord:
		return "program_word"
	case ProcProgramDoubleWord:
		return "program_doubleword"
	default:
		return "none"
	}
}

// ErrorCode is the sticky error bitmask.
type ErrorCode uint32

const (
	ErrNone                ErrorCode = 0
	ErrEraseWriteProtected ErrorCode = 1 << 0
	ErrEraseContainsPC     ErrorCode = 1 << 1
)

func (e ErrorCode) Has(flag ErrorCode) bool { return e&flag != 0 }

func (e ErrorCode) String() string {
	if e == ErrNone {
		return "none"
	}
	return strings.Join(e.Flags(), "|")
}

// Flags returns the short names of the set bits.
func (e ErrorCode) Flags() []string {
	var parts []string
	if e.Has(ErrEraseWriteProtected) {
		parts = append(parts, "erase_write_protected")
	}
	if e.Has(ErrEraseContainsPC) {
		parts = append(parts, "erase_contains_pc")
	}
	return parts
}

// errorFromFlags maps IFR alarm bits onto the error bitmask.
func errorFromFlags(f IFRBits) ErrorCode {
	var e ErrorCode
	if f.Has(IFProtect) {
		e |= ErrEraseWriteProtected
	}
	if f.Has(IFPC) {
		e |= ErrEraseContainsPC
	}
	return e
}

// State is the handle book-keeping state.
type State uint8

const (
	StateReset State = iota
	StateReady
	StateBusy
	StateTimeout
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTimeout:
		return "timeout"
	case StateError:
		return "error"
	default:
		return "reset"
	}
}

// ProcessState is the in-RAM record of the operation in flight.
type ProcessState struct {
	Procedure     Procedure
	DataRemaining uint32 // pages or words left
	Address       uint32
	Data          uint64
	Locked        bool
	ErrorCode     ErrorCode
}

// EraseType selects page or whole-array erase.
type EraseType uint8

const (
	ErasePages EraseType = iota
	EraseMass
)

func (t EraseType) String() string {
	if t == EraseMass {
		return "mass"
	}
	return "pages"
}

// EraseRequest describes one Erase call. PageAddress and NbPages are
// ignored for EraseMass.
type EraseRequest struct {
	Type        EraseType
	PageAddress uint32
	NbPages     uint32
}

// NoPageError is returned as the failing page when no page failed.
const NoPageError uint32 = 0xFFFF_FFFF

// ProgramType selects the programming width.
type ProgramType uint8

const (
	ProgramByte ProgramType = iota
	ProgramHalfWord
	ProgramWord
	ProgramDoubleWord
)

// Width returns the number of bytes written, or 0 for an unknown type.
func (t ProgramType) Width() uint32 {
	switch t {
	case ProgramByte:
		return 1
	case ProgramHalfWord:
		return 2
	case ProgramWord:
		return 4
	case ProgramDoubleWord:
		return 8
	default:
		return 0
	}
}

func (t ProgramType) procedure() Procedure {
	switch t {
	case ProgramHalfWord:
		return ProcProgramHalfWord
	case ProgramWord:
		return ProcProgramWord
	case ProgramDoubleWord:
		return ProcProgramDoubleWord
	default:
		return ProcProgramByte
	}
}

// ProgramTypeForWidth maps a byte width to a ProgramType.
func ProgramTypeForWidth(w uint32) (ProgramType, bool) {
	switch w {
	case 1:
		return ProgramByte, true
	case 2:
		return ProgramHalfWord, true
	case 4:
		return ProgramWord, true
	case 8:
		return ProgramDoubleWord, true
	default:
		return 0, false
	}
}
