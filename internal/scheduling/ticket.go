package scheduling

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/telemetry"
)

// Future is the pending result of an invocation. It is resolved exactly once.
type Future struct {
	done     chan struct{}
	resolved atomic.Bool
	result   *function.InvocationResult
	err      error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx expires.
func (f *Future) Wait(ctx context.Context) (*function.InvocationResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while pending.
func (f *Future) Result() (res *function.InvocationResult, err error, ok bool) {
	select {
	case <-f.done:
		return f.result, f.err, true
	default:
		return nil, nil, false
	}
}

func (f *Future) resolve(res *function.InvocationResult, err error) error {
	if !f.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	f.result = res
	f.err = err
	close(f.done)
	return nil
}

// Ticket wraps an accepted invocation while the scheduler owns it.
type Ticket struct {
	ID         string
	Retries    int
	Invocation *function.Invocation
	Future     *Future
	Enqueued   time.Time

	span trace.Span
}

func newTicket(inv *function.Invocation) *Ticket {
	id := uuid.NewString()
	_, span := telemetry.StartSpan(inv.Ctx, "invocation", trace.WithAttributes(attribute.String("invocation.id", id)))
	return &Ticket{
		ID:         id,
		Retries:    1,
		Invocation: inv,
		Future:     newFuture(),
		Enqueued:   time.Now(),
		span:       span,
	}
}

func (t *Ticket) resolve(res *function.InvocationResult, err error) error {
	if rerr := t.Future.resolve(res, err); rerr != nil {
		return errors.Wrapf(rerr, "invocation %s", t.ID)
	}
	if err != nil {
		t.span.RecordError(err)
	}
	t.span.End()
	return nil
}
