package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"  yaml:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status" yaml:"status"` // freeform short code
	TSms   int64  `json:"ts_ms"  yaml:"ts_ms"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TSms  int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// Polling (declarative)
// ------------------------

type PollSpec struct {
	Domain     string `json:"domain"      yaml:"domain"`      // e.g. "storage"
	Kind       Kind   `json:"kind"        yaml:"kind"`        // e.g. "flash"
	Name       string `json:"name"        yaml:"name"`        // e.g. "main"
	Verb       string `json:"verb"        yaml:"verb"`        // typically "status"
	IntervalMs uint32 `json:"interval_ms" yaml:"interval_ms"` // >0
	JitterMs   uint16 `json:"jitter_ms"   yaml:"jitter_ms"`   // optional
}

// ------------------------
// HAL configuration (topic "config/hal")
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices"           yaml:"devices"`
	Pollers []PollSpec  `json:"pollers,omitempty" yaml:"pollers,omitempty"`
}

type HALDevice struct {
	ID     string `json:"id"     yaml:"id"`   // logical device id
	Type   string `json:"type"   yaml:"type"` // e.g. "cx32flash"
	Params any    `json:"params" yaml:"params"`
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Info envelope (retained)
// ------------------------

type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"` // one of *Info types
}
