package config

import (
	"context"
	"errors"
	"os"

	"cx32hal/bus"
	"cx32hal/types"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName   = "config"
	configPrefix  = "config"
	DefaultDevice = "host-sim"
)

type ctxKey string

// CtxDeviceKey is the context key carrying the device ID.
const CtxDeviceKey ctxKey = "device"

var (
	ErrNoDevice = errors.New("missing device ID in context")
	ErrNoConfig = errors.New("no embedded config for device")
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = embeddedConfig

// -----------------------------------------------------------------------------
// Document
// -----------------------------------------------------------------------------

// Document is one device configuration. The hal and ports sections are
// decoded to their typed forms; every other top-level key is kept as-is.
type Document struct {
	HAL   *types.HALConfig      `yaml:"hal,omitempty"`
	Ports []types.FlashPortSpec `yaml:"ports,omitempty"`
	Other map[string]any        `yaml:",inline"`
}

// Parse decodes a YAML document.
func Parse(raw []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load resolves device through EmbeddedConfigLookup.
func Load(device string) (*Document, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, errors.Join(ErrNoConfig, errors.New(device))
	}
	return Parse(raw)
}

// LoadFile reads a document from disk.
func LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Section returns the payload published under config/<key>.
func (d *Document) Section(key string) (any, bool) {
	switch key {
	case "hal":
		if d.HAL == nil {
			return nil, false
		}
		return *d.HAL, true
	case "ports":
		if d.Ports == nil {
			return nil, false
		}
		return d.Ports, true
	}
	v, ok := d.Other[key]
	return v, ok
}

// Keys lists the sections present.
func (d *Document) Keys() []string {
	var ks []string
	if d.HAL != nil {
		ks = append(ks, "hal")
	}
	if d.Ports != nil {
		ks = append(ks, "ports")
	}
	for k := range d.Other {
		ks = append(ks, k)
	}
	return ks
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// Publish sends each section of d as a retained config/<key> message.
func Publish(conn *bus.Connection, d *Document) {
	for _, k := range d.Keys() {
		v, _ := d.Section(k)
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}

// publishConfig loads the device config from embedded data and publishes it.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return ErrNoDevice
	}
	d, err := Load(device)
	if err != nil {
		return err
	}
	Publish(conn, d)
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config] publish failed:", err.Error())
		}
	}()
}
