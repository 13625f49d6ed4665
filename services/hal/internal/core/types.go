package core

import (
	"context"

	"cx32hal/errcode"
	"cx32hal/types"
)

// ---- Capability & device model ----

// CapAddr is the public identity of a capability.
type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

type CapabilitySpec struct {
	Domain string // "" => inferred from Kind
	Kind   types.Kind
	Name   string // "" => device ID
	Info   types.Info
}

// EnqueueResult reports whether a control was accepted by the device.
// Outcomes arrive later as events.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	// Control must not block.
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error // releases claimed resources
}

// Builder input
type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
