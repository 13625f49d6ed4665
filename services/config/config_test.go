package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"cx32hal/bus"
	"cx32hal/types"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "bench" {
			return nil, false
		}
		return []byte(`
mode: dev
debug: true
region:
  code: eu
hal:
  devices:
    - id: main
      type: cx32flash
      params: {port: flash0}
`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench")
	svc.Start(ctx, conn)

	sub := conn.Subscribe(bus.T(configPrefix, "#"))

	wantCount := 4 // mode, debug, region, hal
	got := map[string]any{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < wantCount && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			key, ok := m.Topic.At(1).(string)
			if !ok || m.Topic.At(0) != configPrefix {
				t.Fatalf("unexpected topic: %#v", m.Topic)
			}
			if !m.Retained {
				t.Fatalf("%s not retained", key)
			}
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v", got["mode"])
	}
	if v, ok := got["debug"].(bool); !ok || !v {
		t.Fatalf("debug payload = %#v", got["debug"])
	}
	if m, ok := got["region"].(map[string]any); !ok || m["code"] != "eu" {
		t.Fatalf("region payload = %#v", got["region"])
	}
	hal, ok := got["hal"].(types.HALConfig)
	if !ok {
		t.Fatalf("hal payload type = %T, want types.HALConfig", got["hal"])
	}
	if len(hal.Devices) != 1 || hal.Devices[0].Type != "cx32flash" {
		t.Fatalf("hal devices = %+v", hal.Devices)
	}
	params, ok := hal.Devices[0].Params.(map[string]any)
	if !ok || params["port"] != "flash0" {
		t.Fatalf("params = %#v", hal.Devices[0].Params)
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	if err := svc.publishConfig(context.Background(), conn); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("err = %v, want ErrNoConfig", err)
	}
}

func TestEmbeddedDefault(t *testing.T) {
	d, err := Load(DefaultDevice)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Ports) != 2 {
		t.Fatalf("ports = %+v", d.Ports)
	}
	if p := d.Ports[1]; p.Transport != "i2c" || p.Addr != 0x3A {
		t.Fatalf("bridge port = %+v", p)
	}
	if d.HAL == nil || len(d.HAL.Devices) != 2 || len(d.HAL.Pollers) != 1 {
		t.Fatalf("hal = %+v", d.HAL)
	}
	if d.HAL.Pollers[0].IntervalMs != 5000 {
		t.Fatalf("poller = %+v", d.HAL.Pollers[0])
	}
	if _, ok := d.Section("cli"); !ok {
		t.Fatal("cli section missing")
	}
	if hb, ok := d.Section("heartbeat"); !ok || hb.(map[string]any)["interval"] != 10 {
		t.Fatalf("heartbeat = %#v", hb)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse([]byte("ports: [\n")); err == nil {
		t.Fatal("expected parse error")
	}
}
