package types

// ------------------------
// Capability addressing & kinds
// ------------------------

type Kind string

const (
	KindFlash Kind = "flash"
)

// CapabilityAddress identifies a public capability on the bus.
type CapabilityAddress struct {
	Domain string `json:"domain"` // e.g. "storage"
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}
