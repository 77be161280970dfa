// The one-shot shape here follows github.com/pion/transport/v3/deadline's
// "arm / reset / stop, synchronise with firing" contract around a
// net.Conn: a deadline.Deadline is set to a point in time, exposes a
// Done() channel that closes when that point passes, and
// Set(time.Time{}) disarms it.
package timerutil

import (
	"sync"
	"time"

	"github.com/pion/transport/v3/deadline"
)

const StopWait = time.Second

// OneShot is a single-instance, rearmable one-shot timer built on a
// deadline.Deadline. The zero value is ready to use. Safe for concurrent
// Arm/Stop from one goroutine driving the reactor loop plus the timer's own
// waiter goroutine.
type OneShot struct {
	mu   sync.Mutex
	dl   *deadline.Deadline
	stop chan struct{}
	wg   sync.WaitGroup
}

func (o *OneShot) Arm(d time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()

	dl := deadline.New()
	dl.Set(time.Now().Add(d))
	stop := make(chan struct{})
	o.dl = dl
	o.stop = stop

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case <-dl.Done():
			fn()
		case <-stop:
		}
	}()
}

// cancelLocked disarms the current deadline and tells its waiter goroutine
// to exit without firing. Caller holds mu.
func (o *OneShot) cancelLocked() {
	if o.dl != nil {
		o.dl.Set(time.Time{})
	}
	if o.stop != nil {
		close(o.stop)
	}
	o.dl = nil
	o.stop = nil
}

// Stop cancels the armed timer, if any. After Stop returns, the callback
// passed to the most recent Arm will not run (a callback already mid-flight
// when Stop is called may still complete, but Stop does not block waiting
// for it — callers that need the StopWait guarantee use StopAndWait).
func (o *OneShot) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked()
}

// StopAndWait cancels the timer and blocks up to StopWait for any
// in-flight callback invocation to finish.
func (o *OneShot) StopAndWait() {
	o.Stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopWait):
	}
}
