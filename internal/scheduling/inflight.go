package scheduling

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/serverledge-faas/fnscheduler/internal/node"
)

// runningInvocation is the bookkeeping of a dispatched, not yet completed ticket.
type runningInvocation struct {
	ticket    *Ticket
	env       *node.Environment
	startTime time.Time
	logs      string
}

// inFlightTable maps invocation IDs to running invocations. An ID is present
// at most once.
type inFlightTable struct {
	mu      sync.Mutex
	records map[string]*runningInvocation
}

func newInFlightTable() *inFlightTable {
	return &inFlightTable{records: make(map[string]*runningInvocation)}
}

func (t *inFlightTable) put(r *runningInvocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[r.ticket.ID]; ok {
		return errors.Wrapf(ErrDuplicateInvocation, "invocation %s", r.ticket.ID)
	}
	t.records[r.ticket.ID] = r
	return nil
}

func (t *inFlightTable) pop(id string) (*runningInvocation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownInvocation, "cannot map invocation %s to a running invocation", id)
	}
	delete(t.records, id)
	return r, nil
}

// setLogs buffers logs on the record of id, replacing earlier ones.
func (t *inFlightTable) setLogs(id string, logs string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return errors.Wrapf(ErrUnknownInvocation, "cannot map logs of invocation %s to a running invocation", id)
	}
	r.logs = logs
	return nil
}

// popByEnvironment removes every record assigned to env.
func (t *inFlightTable) popByEnvironment(env *node.Environment) []*runningInvocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*runningInvocation
	for id, r := range t.records {
		if r.env == env {
			out = append(out, r)
			delete(t.records, id)
		}
	}
	return out
}

func (t *inFlightTable) popAll() []*runningInvocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*runningInvocation, 0, len(t.records))
	for id, r := range t.records {
		out = append(out, r)
		delete(t.records, id)
	}
	return out
}

func (t *inFlightTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
