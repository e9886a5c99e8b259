package reqresp

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// watchdog resets a stream when the current stage outlives its budget.
// Resetting unblocks any pending read or write, which then fails; timedOut
// tells such failures apart from ordinary I/O errors.
type watchdog struct {
	clock  clockwork.Clock
	stream Stream

	mu    sync.Mutex
	timer clockwork.Timer
	gen   uint64
	fired Stage
}

func newWatchdog(clock clockwork.Clock, stream Stream) *watchdog {
	return &watchdog{clock: clock, stream: stream}
}

// arm starts the budget of stage, replacing any running one. A non-positive
// budget disables the watchdog for the stage.
func (w *watchdog) arm(stage Stage, budget time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	if budget <= 0 {
		return
	}

	gen := w.gen

	w.timer = w.clock.AfterFunc(budget, func() {
		w.mu.Lock()
		if w.gen != gen || w.fired != "" {
			w.mu.Unlock()

			return
		}

		w.fired = stage
		w.mu.Unlock()

		_ = w.stream.Reset()
	})
}

func (w *watchdog) disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
}

func (w *watchdog) stopLocked() {
	w.gen++

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// timedOut returns the stage whose budget elapsed, if any.
func (w *watchdog) timedOut() (Stage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.fired, w.fired != ""
}
