package hal

import (
	"bytes"
	"context"
	"testing"
	"time"

	"cx32hal/bus"
	"cx32hal/errcode"
	"cx32hal/types"
)

func recvOrTimeout(ch <-chan *bus.Message, d time.Duration) (*bus.Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// waitTagged skips events until one arrives on .../event/<tag>.
func waitTagged(t *testing.T, sub *bus.Subscription, tag string) *bus.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := recvOrTimeout(sub.Channel(), time.Until(deadline))
		if err != nil {
			break
		}
		if m.Topic.At(m.Topic.Len()-1) == tag {
			return m
		}
	}
	t.Fatalf("no %q event", tag)
	return nil
}

func control(t *testing.T, conn *bus.Connection, topic bus.Topic, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := conn.RequestWait(ctx, conn.NewMessage(topic, payload, false))
	if err != nil {
		t.Fatalf("request %v: %v", topic, err)
	}
	return reply.Payload
}

func startHAL(t *testing.T) (*Service, *bus.Connection) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewBus(64)
	conn := b.NewConnection("test")
	t.Cleanup(conn.Disconnect)

	svc, err := New(conn, []types.FlashPortSpec{
		{ID: "flash0", Variant: "cx32l003f4"},
		{ID: "flash1", Variant: "cx32l003f8", Transport: "i2c"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	stateSub := conn.Subscribe(bus.T("hal", "state"))
	defer conn.Unsubscribe(stateSub)
	go svc.Run(ctx)

	conn.Publish(conn.NewMessage(bus.T("config", "hal"), types.HALConfig{
		Devices: []types.HALDevice{
			{ID: "main", Type: "cx32flash", Params: map[string]any{"port": "flash0", "alarm_irq": true}},
			{ID: "aux", Type: "cx32flash", Params: map[string]any{"port": "flash1"}},
		},
	}, true))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := recvOrTimeout(stateSub.Channel(), time.Until(deadline))
		if err != nil {
			break
		}
		if st, ok := m.Payload.(types.HALState); ok && st.Level == "ready" {
			return svc, conn
		}
	}
	t.Fatal("HAL never reported ready")
	return nil, nil
}

func TestHAL_FlashInfoRetained(t *testing.T) {
	_, conn := startHAL(t)
	sub := conn.Subscribe(InfoTopic(CapAddr("storage", "main")))
	m, err := recvOrTimeout(sub.Channel(), time.Second)
	if err != nil {
		t.Fatal("no retained info")
	}
	info, ok := m.Payload.(types.Info)
	if !ok {
		t.Fatalf("info payload %T", m.Payload)
	}
	fi, ok := info.Detail.(types.FlashInfo)
	if !ok || fi.Size != 32*1024 || fi.PageSize != 512 || fi.Pages != 64 || fi.Port != "flash0" {
		t.Fatalf("flash info = %+v", info.Detail)
	}
}

func TestHAL_ProgramReadEraseRoundTrip(t *testing.T) {
	_, conn := startHAL(t)
	for _, name := range []string{"main", "aux"} {
		a := CapAddr("storage", name)
		ev := conn.Subscribe(EventTopic(a, "#"))

		if r := control(t, conn, CtrlTopic(a, "program"),
			types.FlashProgram{Tag: "p1", Width: 4, Addr: 0x400, Data: 0x11223344}); r != (types.OKReply{OK: true}) {
			t.Fatalf("%s program reply = %#v", name, r)
		}
		res := waitTagged(t, ev, "program").Payload.(types.FlashOpResult)
		if !res.OK || res.Tag != "p1" {
			t.Fatalf("%s program result = %+v", name, res)
		}

		control(t, conn, CtrlTopic(a, "write"),
			types.FlashWrite{Addr: 0x405, Data: []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4}, Verify: true})
		if res := waitTagged(t, ev, "write").Payload.(types.FlashOpResult); !res.OK {
			t.Fatalf("%s write result = %+v", name, res)
		}

		control(t, conn, CtrlTopic(a, "read"), types.FlashRead{Tag: "r", Addr: 0x400, Len: 10})
		data := waitTagged(t, ev, "read").Payload.(types.FlashData)
		want := []byte{0x44, 0x33, 0x22, 0x11, 0xFF, 0xA0, 0xA1, 0xA2, 0xA3, 0xA4}
		if !bytes.Equal(data.Data, want) || data.Tag != "r" {
			t.Fatalf("%s read = % X", name, data.Data)
		}

		// An address inside the page is rejected, not widened.
		control(t, conn, CtrlTopic(a, "erase"), types.FlashErase{Tag: "e0", Addr: 0x4FF, Pages: 1})
		if res := waitTagged(t, ev, "erase").Payload.(types.FlashOpResult); res.OK || res.Error != string(errcode.Misaligned) {
			t.Fatalf("%s misaligned erase result = %+v", name, res)
		}
		control(t, conn, CtrlTopic(a, "read"), types.FlashRead{Addr: 0x400, Len: 4})
		if d := waitTagged(t, ev, "read").Payload.(types.FlashData); !bytes.Equal(d.Data, want[:4]) {
			t.Fatalf("%s after rejected erase = % X", name, d.Data)
		}

		control(t, conn, CtrlTopic(a, "erase"), types.FlashErase{Addr: 0x400, Pages: 1})
		if res := waitTagged(t, ev, "erase").Payload.(types.FlashOpResult); !res.OK || res.PageError != 0xFFFFFFFF {
			t.Fatalf("%s erase result = %+v", name, res)
		}
		control(t, conn, CtrlTopic(a, "read"), types.FlashRead{Addr: 0x400, Len: 4})
		if d := waitTagged(t, ev, "read").Payload.(types.FlashData); !bytes.Equal(d.Data, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
			t.Fatalf("%s after erase = % X", name, d.Data)
		}
		conn.Unsubscribe(ev)
	}
}

func TestHAL_WriteProtectedEraseRaisesAlarm(t *testing.T) {
	svc, conn := startHAL(t)
	sim, ok := svc.Sim("flash0")
	if !ok {
		t.Fatal("no sim")
	}
	sim.ProtectSectors(1 << 1) // 0x1000..0x1FFF

	a := CapAddr("storage", "main")
	ev := conn.Subscribe(EventTopic(a, "#"))
	status := conn.Subscribe(StatusTopic(a))

	control(t, conn, CtrlTopic(a, "erase"), types.FlashErase{Addr: 0x0E00, Pages: 3})

	alarm := waitTagged(t, ev, "alarm").Payload.(types.FlashAlarm)
	if len(alarm.Errors) != 1 || alarm.Errors[0] != "erase_write_protected" {
		t.Fatalf("alarm = %+v", alarm)
	}
	res := waitTagged(t, ev, "erase").Payload.(types.FlashOpResult)
	if res.OK || res.Error != string(errcode.WriteProtected) || res.PageError != 8 {
		t.Fatalf("erase result = %+v", res)
	}

	degraded := false
	deadline := time.Now().Add(time.Second)
	for !degraded && time.Now().Before(deadline) {
		m, err := recvOrTimeout(status.Channel(), time.Until(deadline))
		if err != nil {
			break
		}
		st := m.Payload.(types.CapabilityStatus)
		degraded = st.Link == types.LinkDegraded && st.Error == string(errcode.WriteProtected)
	}
	if !degraded {
		t.Fatal("status never degraded")
	}

	// Further operations need reinit.
	control(t, conn, CtrlTopic(a, "program"), types.FlashProgram{Width: 1, Addr: 0, Data: 0})
	if res := waitTagged(t, ev, "program").Payload.(types.FlashOpResult); res.Error != string(errcode.NotReady) {
		t.Fatalf("program before reinit = %+v", res)
	}
	control(t, conn, CtrlTopic(a, "reinit"), nil)
	if res := waitTagged(t, ev, "reinit").Payload.(types.FlashOpResult); !res.OK {
		t.Fatalf("reinit = %+v", res)
	}
}

func TestHAL_ControlErrors(t *testing.T) {
	_, conn := startHAL(t)
	a := CapAddr("storage", "main")

	cases := []struct {
		name    string
		topic   bus.Topic
		payload any
		want    errcode.Code
	}{
		{"unknown capability", CtrlTopic(CapAddr("storage", "nope"), "status"), nil, errcode.UnknownCapability},
		{"unknown verb", CtrlTopic(a, "format"), nil, errcode.Unsupported},
		{"wrong payload type", CtrlTopic(a, "program"), "0x1234", errcode.InvalidPayload},
		{"bad width", CtrlTopic(a, "program"), types.FlashProgram{Width: 3}, errcode.InvalidPayload},
		{"zero pages", CtrlTopic(a, "erase"), types.FlashErase{Addr: 0}, errcode.InvalidPayload},
		{"oversized read", CtrlTopic(a, "read"), types.FlashRead{Len: 1 << 20}, errcode.InvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := control(t, conn, tc.topic, tc.payload).(types.ErrorReply)
			if !ok || r.OK || r.Error != string(tc.want) {
				t.Fatalf("reply = %#v, want %s", r, tc.want)
			}
		})
	}
}

func TestHAL_ControlBeforeConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	svc, err := New(conn, []types.FlashPortSpec{{ID: "flash0"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	stateSub := conn.Subscribe(bus.T("hal", "state"))
	go svc.Run(ctx)
	if _, err := recvOrTimeout(stateSub.Channel(), time.Second); err != nil {
		t.Fatal("no idle state")
	}

	r := control(t, conn, CtrlTopic(CapAddr("storage", "main"), "status"), nil)
	if er, ok := r.(types.ErrorReply); !ok || er.Error != string(errcode.HALNotReady) {
		t.Fatalf("reply = %#v", r)
	}
}

func TestNew_RejectsBadPorts(t *testing.T) {
	conn := bus.NewBus(4).NewConnection("test")
	for _, ports := range [][]types.FlashPortSpec{
		{{ID: ""}},
		{{ID: "a"}, {ID: "a"}},
		{{ID: "a", Variant: "stm32f4"}},
		{{ID: "a", Transport: "spi"}},
	} {
		if _, err := New(conn, ports, nil); err == nil {
			t.Fatalf("New(%+v) succeeded", ports)
		}
	}
}
