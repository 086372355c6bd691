package node

import (
	"testing"
	"time"
)

func TestControlTimer(t *testing.T) {
	timer := NewRandomControlTimer()
	go timer.Run(10 * time.Millisecond)
	defer timer.Shutdown()

	for i := 0; i < 3; i++ {
		select {
		case <-timer.tickCh:
		case <-time.After(time.Second):
			t.Fatalf("tick %d did not arrive", i)
		}
	}

	timer.Reset(time.Hour)

	select {
	case <-timer.tickCh:
		t.Fatal("timer ticked after being reset to a long period")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStateGoFunc(t *testing.T) {
	var s state

	release := make(chan struct{})
	for i := 0; i < WGLIMIT; i++ {
		if !s.goFunc(func() { <-release }) {
			t.Fatalf("goroutine %d refused below the limit", i)
		}
	}

	if s.goFunc(func() {}) {
		t.Fatal("goroutine accepted above the limit")
	}

	close(release)
	s.waitRoutines()

	if !s.goFunc(func() {}) {
		t.Fatal("goroutine refused after the others finished")
	}
	s.waitRoutines()
}
