package core

import "cx32hal/bus"

// Opaque-topic helpers

func T(tokens ...bus.Token) bus.Topic { return bus.T(tokens...) }

func topicConfigHAL() bus.Topic { return T("config", "hal") }

// hal/cap/<domain>/<kind>/<name>/...
func capBase(domain, kind, name string) bus.Topic { return T("hal", "cap", domain, kind, name) }

func capInfo(domain, kind, name string) bus.Topic { return capBase(domain, kind, name).Append("info") }
func capStatus(domain, kind, name string) bus.Topic {
	return capBase(domain, kind, name).Append("status")
}
func capValue(domain, kind, name string) bus.Topic {
	return capBase(domain, kind, name).Append("value")
}
func capEvent(domain, kind, name string) bus.Topic {
	return capBase(domain, kind, name).Append("event")
}
func capEventTagged(domain, kind, name, tag string) bus.Topic {
	return capEvent(domain, kind, name).Append(tag)
}

// hal/cap/<domain>/<kind>/<name>/control/<verb>
func capCtrl(domain, kind, name, verb string) bus.Topic {
	return capBase(domain, kind, name).Append("control", verb)
}

// hal/cap/+/+/+/control/+
func ctrlWildcard() bus.Topic {
	return T("hal", "cap", "+", "+", "+", "control", "+")
}

// Exported forms for clients of the HAL.

func CtrlTopic(a CapAddr, verb string) bus.Topic { return capCtrl(a.Domain, a.Kind, a.Name, verb) }
func ValueTopic(a CapAddr) bus.Topic             { return capValue(a.Domain, a.Kind, a.Name) }
func StatusTopic(a CapAddr) bus.Topic            { return capStatus(a.Domain, a.Kind, a.Name) }
func InfoTopic(a CapAddr) bus.Topic              { return capInfo(a.Domain, a.Kind, a.Name) }
func EventTopic(a CapAddr, tag string) bus.Topic {
	if tag == "" {
		return capEvent(a.Domain, a.Kind, a.Name)
	}
	return capEventTagged(a.Domain, a.Kind, a.Name, tag)
}
