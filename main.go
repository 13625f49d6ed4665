package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cx32hal/bus"
	"cx32hal/services/config"
	"cx32hal/services/hal"
	"cx32hal/services/heartbeat"
)

// Host daemon: HAL over simulated flash ports, configured from the
// embedded document named by CX32HAL_DEVICE.
func main() {
	device := os.Getenv("CX32HAL_DEVICE")
	if device == "" {
		device = config.DefaultDevice
	}
	println("boot", device)

	doc, err := config.Load(device)
	if err != nil {
		println("[main] config:", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, config.CtxDeviceKey, device)

	b := bus.NewBus(32)

	svc, err := hal.New(b.NewConnection("hal"), doc.Ports, nil)
	if err != nil {
		println("[main] hal:", err.Error())
		os.Exit(1)
	}
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	_ = heartbeat.New().Start(ctx, b.NewConnection("heartbeat"))
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	<-done
	println("shutdown")
}
