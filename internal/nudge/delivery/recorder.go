package delivery

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hay-kot/nudge/internal/core/notify"
)

// ErrInjected is returned by a Recorder told to fail.
var ErrInjected = errors.New("injected delivery failure")

// Call is a delivery attempt seen by a Recorder.
type Call struct {
	Title string
	Body  string
	OK    bool
}

// Recorder captures delivery attempts in memory. It is used by tests and can
// be told to fail the next N attempts.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	failNext int
}

var _ notify.Deliverer = (*Recorder)(nil)

// FailNext makes the next n deliveries fail with ErrInjected.
func (r *Recorder) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *Recorder) Deliver(ctx context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext > 0 {
		r.failNext--
		r.calls = append(r.calls, Call{Title: title, Body: body})
		return &notify.DeliveryError{Backend: "recorder", Err: ErrInjected}
	}

	r.calls = append(r.calls, Call{Title: title, Body: body, OK: true})
	return nil
}

// Calls returns every attempt in order, failed ones included.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Delivered returns the number of successful deliveries.
func (r *Recorder) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.calls {
		if c.OK {
			n++
		}
	}
	return n
}

// Attempts returns the number of delivery attempts, failed ones included.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
