package flashdev

import (
	"context"

	"cx32hal/drivers/cx32flash"
	"cx32hal/errcode"
	"cx32hal/services/hal/internal/core"
	"cx32hal/types"
	"cx32hal/x/strx"
)

// Params defines wiring and behaviour for one flash controller instance.
type Params struct {
	Port         string `yaml:"port"`          // e.g. "flash0" (required)
	Name         string `yaml:"name"`          // capability name; "" => device ID
	Domain       string `yaml:"domain"`        // "" => "storage"
	TimeoutTicks uint32 `yaml:"timeout_ticks"` // 0 => driver default
	AlarmIRQ     bool   `yaml:"alarm_irq"`     // route the alarm IRQ to the driver
}

// Builder registration.
func init() { core.RegisterBuilder("cx32flash", builder{}) }

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, code := core.As[Params](in.Params)
	if code != "" {
		return nil, errcode.InvalidParams
	}
	if p.Port == "" {
		return nil, errcode.InvalidParams
	}
	p.Domain = strx.Coalesce(p.Domain, "storage")
	p.Name = strx.Coalesce(p.Name, in.ID)

	port, err := in.Res.Reg.ClaimFlash(in.ID, core.ResourceID(p.Port))
	if err != nil {
		return nil, err
	}
	v, err := cx32flash.Lookup(port.Variant())
	if err != nil {
		in.Res.Reg.ReleaseFlash(in.ID, core.ResourceID(p.Port))
		return nil, errcode.InvalidParams
	}

	d := &Device{
		id:      in.ID,
		addr:    core.CapAddr{Domain: p.Domain, Kind: string(types.KindFlash), Name: p.Name},
		res:     in.Res,
		port:    port,
		variant: v.Name,
		params:  p,
	}
	d.ctl = cx32flash.New(port.Bus(), cx32flash.Config{
		Geometry:       v.Geometry(),
		Timeout:        p.TimeoutTicks,
		Clock:          port.Clock(),
		EnableAlarmIRQ: p.AlarmIRQ,
		ErrorCallback:  d.onAlarm,
	})
	return d, nil
}
