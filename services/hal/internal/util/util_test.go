package util

import (
	"testing"
	"time"
)

func TestResetTimerRearms(t *testing.T) {
	tm := time.NewTimer(time.Hour)
	defer tm.Stop()
	ResetTimer(tm, time.Millisecond)
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after reset")
	}
}

func TestResetTimerAfterFire(t *testing.T) {
	tm := time.NewTimer(time.Millisecond)
	defer tm.Stop()
	time.Sleep(5 * time.Millisecond)
	// A fire nobody received must not leak into the next period.
	ResetTimer(tm, 50*time.Millisecond)
	select {
	case <-tm.C:
		t.Fatal("stale fire delivered")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestResetTimerNegative(t *testing.T) {
	tm := time.NewTimer(time.Hour)
	defer tm.Stop()
	ResetTimer(tm, -time.Second)
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("negative duration did not fire")
	}
}

func TestDrainTimerNonBlocking(t *testing.T) {
	tm := time.NewTimer(time.Hour)
	defer tm.Stop()
	done := make(chan struct{})
	go func() {
		DrainTimer(tm)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DrainTimer blocked")
	}
}
