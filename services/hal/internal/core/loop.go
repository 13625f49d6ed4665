package core

import (
	"context"
	"time"

	"cx32hal/bus"
	"cx32hal/errcode"
	"cx32hal/types"
	"cx32hal/x/strx"
	"cx32hal/x/timex"
)

const (
	eventQueueLen = 16
	pollQueueLen  = 4
)

type capKey struct {
	domain string
	kind   string
	name   string
}

type HAL struct {
	conn *bus.Connection
	res  Resources

	// Device registry
	dev map[string]Device // devID -> device

	// Capability index: (domain,kind,name) -> devID
	capIndex map[capKey]string
	devCaps  map[string][]capKey

	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription

	// Single-threaded publication of device events
	evCh chan Event

	pollCh chan PollReq
	poller *Poller
	polls  map[pollKey]struct{}
}

func NewHAL(conn *bus.Connection, res Resources) *HAL {
	h := &HAL{
		conn:     conn,
		res:      res,
		dev:      map[string]Device{},
		capIndex: map[capKey]string{},
		devCaps:  map[string][]capKey{},
		evCh:     make(chan Event, eventQueueLen),
		pollCh:   make(chan PollReq, pollQueueLen),
		polls:    map[pollKey]struct{}{},
	}
	h.poller = NewPoller(h.pollCh)
	// HAL provides the emitter to devices.
	h.res.Pub = h
	return h
}

func (h *HAL) Run(ctx context.Context) {
	h.cfgSub = h.conn.Subscribe(topicConfigHAL())
	h.ctrlSub = h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(h.cfgSub)
	defer h.conn.Unsubscribe(h.ctrlSub)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.poller.Run(pctx)

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg, ok := <-h.cfgSub.Channel():
			if !ok {
				h.closeAll()
				return
			}
			cfg, code := As[types.HALConfig](msg.Payload)
			if code != "" {
				println("[hal] config decode failed:", string(code))
				h.pubHALState("error", "config_decode_failed")
				continue
			}
			// applyConfig is additive for existing devices and removes
			// devices no longer listed.
			h.applyConfig(ctx, cfg)
			ready = true
			h.pubHALState("ready", "configured")
		case m, ok := <-h.ctrlSub.Channel():
			if !ok {
				h.closeAll()
				return
			}
			if !ready {
				// Reject controls until HAL has a configuration.
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m) // strictly non-blocking
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		case pr := <-h.pollCh:
			h.handlePoll(pr)
		}
	}
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	seen := map[string]struct{}{}
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		seen[dc.ID] = struct{}{}
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			println("[hal] no builder for type:", dc.Type, "id:", dc.ID)
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			println("[hal] build failed for:", dc.ID, "err:", err.Error())
			continue
		}
		if err := dev.Init(ctx); err != nil {
			println("[hal] init failed for:", dc.ID, "err:", err.Error())
			_ = dev.Close()
			continue
		}
		h.dev[dev.ID()] = dev

		// Register capabilities, publish retained info + initial status:down
		for _, cs := range dev.Capabilities() {
			k := string(cs.Kind)
			domain := strx.Coalesce(cs.Domain, defaultDomainFor(k))
			name := strx.Coalesce(cs.Name, dev.ID())
			key := capKey{domain: domain, kind: k, name: name}
			h.capIndex[key] = dev.ID()
			h.devCaps[dev.ID()] = append(h.devCaps[dev.ID()], key)

			h.conn.Publish(h.conn.NewMessage(capInfo(domain, k, name), cs.Info, true))
			h.conn.Publish(h.conn.NewMessage(
				capStatus(domain, k, name),
				types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
				true,
			))
		}
	}

	for id := range h.dev {
		if _, ok := seen[id]; !ok {
			h.removeDevice(id)
		}
	}
	h.applyPollers(cfg.Pollers)
}

func (h *HAL) applyPollers(specs []types.PollSpec) {
	want := map[pollKey]struct{}{}
	for _, ps := range specs {
		a := CapAddr{Domain: ps.Domain, Kind: string(ps.Kind), Name: ps.Name}
		verb := strx.Coalesce(ps.Verb, "status")
		k := pollKey{addr: a, verb: verb}
		want[k] = struct{}{}
		h.poller.Upsert(a, verb,
			time.Duration(ps.IntervalMs)*time.Millisecond,
			time.Duration(ps.JitterMs)*time.Millisecond)
	}
	for k := range h.polls {
		if _, ok := want[k]; !ok {
			h.poller.Stop(k.addr, k.verb)
		}
	}
	h.polls = want
}

func (h *HAL) removeDevice(id string) {
	dev := h.dev[id]
	if dev == nil {
		return
	}
	_ = dev.Close()
	for _, key := range h.devCaps[id] {
		delete(h.capIndex, key)
		h.conn.Publish(h.conn.NewMessage(capInfo(key.domain, key.kind, key.name), nil, true))
		h.conn.Publish(h.conn.NewMessage(
			capStatus(key.domain, key.kind, key.name),
			types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
			true,
		))
	}
	delete(h.devCaps, id)
	delete(h.dev, id)
}

func (h *HAL) closeAll() {
	for id := range h.dev {
		h.removeDevice(id)
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	dev := h.lookup(domain, kind, name)
	if dev == nil {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}

	res, err := dev.Control(CapAddr{Domain: domain, Kind: kind, Name: name}, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if !msg.CanReply() {
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.replyErr(msg, code)
}

func (h *HAL) handlePoll(pr PollReq) {
	dev := h.lookup(pr.Addr.Domain, pr.Addr.Kind, pr.Addr.Name)
	if dev == nil {
		return
	}
	// Busy results are dropped; the next tick retries.
	_, _ = dev.Control(pr.Addr, pr.Verb, nil)
}

func (h *HAL) lookup(domain, kind, name string) Device {
	id, ok := h.capIndex[capKey{domain: domain, kind: kind, name: name}]
	if !ok {
		return nil
	}
	return h.dev[id]
}

func (h *HAL) handleEvent(ev Event) {
	d := ev.Addr.Domain
	k := ev.Addr.Kind
	n := ev.Addr.Name

	// 1) Error → retained status:degraded; no value/event published.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			capStatus(d, k, n),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: ev.TSms, Error: ev.Err},
			true,
		))
		return
	}

	// 2) Success: event vs value
	if ev.IsEvent {
		if ev.EventTag != "" {
			h.conn.Publish(h.conn.NewMessage(capEventTagged(d, k, n, ev.EventTag), ev.Payload, false))
		} else {
			h.conn.Publish(h.conn.NewMessage(capEvent(d, k, n), ev.Payload, false))
		}
		return
	}
	h.conn.Publish(h.conn.NewMessage(capValue(d, k, n), ev.Payload, true))
	h.conn.Publish(h.conn.NewMessage(
		capStatus(d, k, n),
		types.CapabilityStatus{Link: types.LinkUp, TSms: ev.TSms},
		true,
	))
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		T("hal", "state"),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case string(types.KindFlash):
		return "storage"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}
