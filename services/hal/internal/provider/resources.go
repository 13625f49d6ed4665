package provider

import (
	"sort"
	"strings"
	"sync"

	"cx32hal/drivers/cx32flash"
	"cx32hal/drivers/cx32flash/flashsim"
	"cx32hal/drivers/regbridge"
	"cx32hal/errcode"
	"cx32hal/services/hal/internal/core"
	"cx32hal/types"
	"cx32hal/x/timex"
)

// Ensure the provider satisfies the contracts at compile time.
var (
	_ core.ResourceRegistry = (*Registry)(nil)
	_ core.FlashPort        = (*hostPort)(nil)
)

// -----------------------------------------------------------------------------
// Host flash port
// -----------------------------------------------------------------------------

// hostPort backs a port with a simulated part, reached either directly or
// through an in-process I2C register bridge.
type hostPort struct {
	id      core.ResourceID
	variant string
	sim     *flashsim.Sim
	bus     cx32flash.Bus
	clk     timex.Clock
}

func (p *hostPort) ID() core.ResourceID { return p.id }
func (p *hostPort) Variant() string     { return p.variant }
func (p *hostPort) Bus() cx32flash.Bus  { return p.bus }
func (p *hostPort) Clock() timex.Clock  { return p.clk }
func (p *hostPort) OnIRQ(fn func())     { p.sim.OnIRQ(fn) }
func (p *hostPort) Sim() *flashsim.Sim  { return p.sim }

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

type Registry struct {
	mu     sync.Mutex
	ports  map[core.ResourceID]*hostPort
	owners map[core.ResourceID]string
}

// NewRegistry builds one port per spec. A nil clock gives each port its
// own millisecond tick clock.
func NewRegistry(specs []types.FlashPortSpec, clk timex.Clock) (*Registry, error) {
	r := &Registry{
		ports:  map[core.ResourceID]*hostPort{},
		owners: map[core.ResourceID]string{},
	}
	for _, s := range specs {
		if s.ID == "" {
			return nil, errcode.Wrap(errcode.InvalidParams, "provider", "port without id")
		}
		id := core.ResourceID(s.ID)
		if _, dup := r.ports[id]; dup {
			return nil, errcode.Wrap(errcode.InvalidParams, "provider", "duplicate port "+s.ID)
		}
		v, err := cx32flash.Lookup(s.Variant)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidParams, "provider", err.Error())
		}
		sim := flashsim.New(v.Geometry())
		p := &hostPort{id: id, variant: v.Name, sim: sim, bus: sim, clk: clk}
		if p.clk == nil {
			p.clk = timex.NewTickClock()
		}
		switch strings.ToLower(s.Transport) {
		case "", "direct":
		case "i2c":
			p.bus = regbridge.New(regbridge.NewResponder(sim, s.Addr), s.Addr)
		default:
			return nil, errcode.Wrap(errcode.InvalidParams, "provider", "unknown transport "+s.Transport)
		}
		r.ports[id] = p
	}
	return r, nil
}

// NewResources wraps a registry for the HAL.
func NewResources(r *Registry) core.Resources {
	return core.Resources{Reg: r}
}

func (r *Registry) Ports() []core.ResourceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]core.ResourceID, 0, len(r.ports))
	for id := range r.ports {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) ClaimFlash(devID string, id core.ResourceID) (core.FlashPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[id]
	if !ok {
		return nil, core.ErrUnknownPort
	}
	if owner, held := r.owners[id]; held && owner != devID {
		return nil, core.ErrPortInUse
	}
	r.owners[id] = devID
	return p, nil
}

func (r *Registry) ReleaseFlash(devID string, id core.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[id] == devID {
		delete(r.owners, id)
		if p := r.ports[id]; p != nil {
			p.sim.OnIRQ(nil)
		}
	}
}

// Sim exposes the simulated part behind a port, for fault injection.
func (r *Registry) Sim(id core.ResourceID) (*flashsim.Sim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[id]
	if !ok {
		return nil, false
	}
	return p.sim, true
}
