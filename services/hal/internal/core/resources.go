package core

import (
	"errors"

	"cx32hal/drivers/cx32flash"
	"cx32hal/x/timex"
)

type ResourceID string // e.g. "flash0"

// ---- Flash ports ----

// FlashPort is a claimed path to one flash controller: register and
// array access, a tick source and the controller's IRQ line.
type FlashPort interface {
	ID() ResourceID
	Variant() string
	Bus() cx32flash.Bus
	Clock() timex.Clock
	// OnIRQ routes the FLASH interrupt to fn; nil detaches.
	OnIRQ(fn func())
}

// ---- Device → HAL telemetry (single shape) ----
// By default an Event is a value update, published retained to .../value.
// IsEvent publishes to .../event instead (non-retained). A non-empty Err
// publishes only .../status=degraded (retained).

type Event struct {
	Addr     CapAddr
	Payload  any
	TSms     int64
	Err      string
	IsEvent  bool
	EventTag string // optional subtopic tag for events (e.g. "alarm")
}

type EventEmitter interface {
	// Emit must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL
}

type ResourceRegistry interface {
	Ports() []ResourceID
	ClaimFlash(devID string, id ResourceID) (FlashPort, error)
	ReleaseFlash(devID string, id ResourceID)
}

var (
	ErrUnknownPort = errors.New("unknown_port")
	ErrPortInUse   = errors.New("port_in_use")
)
