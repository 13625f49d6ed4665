package heartbeat

import (
	"context"
	"time"

	"cx32hal/bus"
	"cx32hal/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHALState        = bus.T("hal", "state")
	topicFlashStatus     = bus.T("hal", "cap", bus.Single, string(types.KindFlash), bus.Single, "status")
	topicFlashAlarm      = bus.T("hal", "cap", bus.Single, string(types.KindFlash), bus.Single, "event", "alarm")
)

const defaultInterval = 10 * time.Second

// Service logs HAL state, flash alarms and a periodic summary of flash
// capability links.
type Service struct {
	interval time.Duration
	hal      types.HALState
	links    map[string]types.CapabilityStatus // "<domain>/<name>" -> status
	alarms   int
}

func New() *Service {
	return &Service{interval: defaultInterval, links: map[string]types.CapabilityStatus{}}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	stSub := conn.Subscribe(topicHALState)
	linkSub := conn.Subscribe(topicFlashStatus)
	alarmSub := conn.Subscribe(topicFlashAlarm)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(stSub)
	defer conn.Unsubscribe(linkSub)
	defer conn.Unsubscribe(alarmSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case t := <-tick.C:
			s.beat(t)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if d, ok := intervalFrom(msg.Payload); ok {
				s.interval = d
				tick.Reset(d)
				println("[heartbeat] interval set to", d.String())
			}
		case msg, ok := <-stSub.Channel():
			if !ok {
				return
			}
			if st, ok := msg.Payload.(types.HALState); ok {
				s.hal = st
				println("[heartbeat] hal", st.Level, st.Status)
			}
		case msg, ok := <-linkSub.Channel():
			if !ok {
				return
			}
			s.onStatus(msg)
		case msg, ok := <-alarmSub.Channel():
			if !ok {
				return
			}
			s.alarms++
			if a, ok := msg.Payload.(types.FlashAlarm); ok {
				println("[heartbeat] flash alarm on", capName(msg.Topic), "code", int(a.ErrorCode))
			}
		}
	}
}

func (s *Service) onStatus(msg *bus.Message) {
	key := capName(msg.Topic)
	st, ok := msg.Payload.(types.CapabilityStatus)
	if !ok {
		delete(s.links, key)
		return
	}
	prev, seen := s.links[key]
	s.links[key] = st
	if !seen || prev.Link != st.Link {
		if st.Error != "" {
			println("[heartbeat]", key, string(st.Link), st.Error)
		} else {
			println("[heartbeat]", key, string(st.Link))
		}
	}
}

func (s *Service) beat(t time.Time) {
	up := 0
	for _, st := range s.links {
		if st.Link == types.LinkUp {
			up++
		}
	}
	println("[heartbeat]", t.Format("15:04:05"), "hal", s.hal.Level,
		"flash up", up, "of", len(s.links), "alarms", s.alarms)
}

// capName renders hal/cap/<domain>/<kind>/<name>/... as "<domain>/<name>".
func capName(t bus.Topic) string {
	d, _ := t.At(2).(string)
	n, _ := t.At(4).(string)
	return d + "/" + n
}

// intervalFrom reads {interval: seconds} as decoded from YAML or built in code.
func intervalFrom(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	var sec float64
	switch v := m["interval"].(type) {
	case int:
		sec = float64(v)
	case float64:
		sec = v
	default:
		return 0, false
	}
	if sec <= 0 {
		return 0, false
	}
	return time.Duration(sec * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
