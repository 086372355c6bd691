package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer ticks periodically until it is shut down. Each period is drawn
// by the timer factory, so a random factory spreads the work of many nodes.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives a new period
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer returns a timer whose periods fall between d and
// 1.5*d.
func NewRandomControlTimer() *ControlTimer {
	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min <= 0 {
			return nil
		}
		extra := time.Duration(rand.Int63n(int64(min)/2 + 1))
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run ticks every period until Shutdown. A tick is dropped if nobody is
// listening at that moment.
func (c *ControlTimer) Run(period time.Duration) {
	timer := c.timerFactory(period)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
			default:
			}
			timer = c.timerFactory(period)
		case period = <-c.resetCh:
			timer = c.timerFactory(period)
		case <-c.shutdownCh:
			return
		}
	}
}

// Reset changes the period and restarts the current one.
func (c *ControlTimer) Reset(period time.Duration) {
	select {
	case c.resetCh <- period:
	case <-c.shutdownCh:
	}
}

// Shutdown ...
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
