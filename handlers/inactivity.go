package handlers

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/lotto/sched"
)

// Inactivity warns when no capture reached the engine for a while, which
// usually means a task hangs outside of the schedule.
type Inactivity struct {
	interval time.Duration
	last     atomic.Int64
	clk      atomic.Uint64
	warned   atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewInactivity creates the handler. It does nothing until Start is called.
func NewInactivity(interval time.Duration) *Inactivity {
	return &Inactivity{interval: interval, now: time.Now}
}

// Handle implements sequencer.Handler.
func (i *Inactivity) Handle(_ *sched.Context, e *sched.Event) {
	i.last.Store(i.now().UnixNano())
	i.clk.Store(uint64(e.Clk))
	i.warned.Store(false)
}

// Start launches the watchdog goroutine.
func (i *Inactivity) Start() {
	if i.interval <= 0 || i.stop != nil {
		return
	}

	i.last.Store(i.now().UnixNano())
	i.stop = make(chan struct{})
	i.wg.Add(1)

	go i.loop()
}

// Stop ends the watchdog goroutine.
func (i *Inactivity) Stop() {
	if i.stop == nil {
		return
	}

	close(i.stop)
	i.wg.Wait()
	i.stop = nil
}

func (i *Inactivity) loop() {
	defer i.wg.Done()

	ticker := time.NewTicker(max(i.interval/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			i.check()
		}
	}
}

func (i *Inactivity) check() bool {
	idle := time.Duration(i.now().UnixNano() - i.last.Load())
	if idle < i.interval || i.warned.Load() {
		return false
	}

	i.warned.Store(true)
	log.Printf("[lotto] no capture for %s since clk %d", idle, i.clk.Load())

	return true
}
