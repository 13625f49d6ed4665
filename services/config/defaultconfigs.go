package config

import "embed"

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that device, from configs/<device>.yaml
// -----------------------------------------------------------------------------

//go:embed configs/*.yaml
var embeddedFS embed.FS

func embeddedConfig(device string) ([]byte, bool) {
	b, err := embeddedFS.ReadFile("configs/" + device + ".yaml")
	if err != nil {
		return nil, false
	}
	return b, true
}
