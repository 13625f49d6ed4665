// services/hal/hal.go
package hal

import (
	"context"

	"cx32hal/bus"
	"cx32hal/drivers/cx32flash/flashsim"
	"cx32hal/services/hal/internal/core"
	"cx32hal/services/hal/internal/provider"
	"cx32hal/types"
	"cx32hal/x/timex"

	// Device builders register themselves.
	_ "cx32hal/services/hal/devices/flash"
)

// Service is a HAL instance over host flash ports.
type Service struct {
	hal *core.HAL
	reg *provider.Registry
}

// New builds the port registry. clk may be nil.
func New(conn *bus.Connection, ports []types.FlashPortSpec, clk timex.Clock) (*Service, error) {
	reg, err := provider.NewRegistry(ports, clk)
	if err != nil {
		return nil, err
	}
	return &Service{
		hal: core.NewHAL(conn, provider.NewResources(reg)),
		reg: reg,
	}, nil
}

// Run blocks until ctx is cancelled. Configuration arrives on config/hal.
func (s *Service) Run(ctx context.Context) { s.hal.Run(ctx) }

// Sim returns the simulated part behind a port.
func (s *Service) Sim(port string) (*flashsim.Sim, bool) {
	return s.reg.Sim(core.ResourceID(port))
}

// Run is New followed by Run.
func Run(ctx context.Context, conn *bus.Connection, ports []types.FlashPortSpec) error {
	s, err := New(conn, ports, nil)
	if err != nil {
		return err
	}
	s.Run(ctx)
	return nil
}

// Topic helpers for HAL clients.

func CapAddr(domain, name string) core.CapAddr {
	return core.CapAddr{Domain: domain, Kind: string(types.KindFlash), Name: name}
}

func CtrlTopic(a core.CapAddr, verb string) bus.Topic { return core.CtrlTopic(a, verb) }
func ValueTopic(a core.CapAddr) bus.Topic             { return core.ValueTopic(a) }
func StatusTopic(a core.CapAddr) bus.Topic            { return core.StatusTopic(a) }
func InfoTopic(a core.CapAddr) bus.Topic              { return core.InfoTopic(a) }
func EventTopic(a core.CapAddr, tag string) bus.Topic { return core.EventTopic(a, tag) }
