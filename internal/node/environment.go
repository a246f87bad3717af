package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/serverledge-faas/fnscheduler/internal/function"
)

type Status int

const (
	INACTIVE Status = iota
	STARTING
	READY
	RUNNING
	FAILED
	STOPPED
)

func (s Status) String() string {
	switch s {
	case INACTIVE:
		return "INACTIVE"
	case STARTING:
		return "STARTING"
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case FAILED:
		return "FAILED"
	case STOPPED:
		return "STOPPED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

const OnDemand = "on-demand"

// Environment is a handle to one sandbox able to run one invocation at a time.
type Environment struct {
	ID                 string
	Version            *function.Version
	Endpoint           string // URL the worker calls back into
	InitializationType string
	StartedAt          time.Time

	runtime Runtime

	mu     sync.Mutex
	status Status
}

func newEnvironment(v *function.Version, endpoint string, rt Runtime) *Environment {
	return &Environment{
		ID:                 NewEnvironmentID(),
		Version:            v,
		Endpoint:           endpoint,
		InitializationType: OnDemand,
		StartedAt:          time.Now(),
		runtime:            rt,
		status:             INACTIVE,
	}
}

func (e *Environment) String() string {
	return fmt.Sprintf("env[%s]", e.ID)
}

func (e *Environment) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Environment) LogGroupName() string {
	return e.Version.LogGroupName()
}

func (e *Environment) LogStreamName() string {
	return e.Version.LogStreamName(e.ID, e.StartedAt)
}

// Start moves the environment to STARTING and asks the runtime to bring the
// sandbox up. Readiness is reported later.
func (e *Environment) Start() error {
	e.mu.Lock()
	if e.status != INACTIVE {
		s := e.status
		e.mu.Unlock()
		return errors.Wrapf(ErrInvalidStatus, "cannot start %s in status %s", e, s)
	}
	e.status = STARTING
	e.mu.Unlock()

	if err := e.runtime.Start(e); err != nil {
		e.mu.Lock()
		if e.status == STARTING {
			e.status = FAILED
		}
		e.mu.Unlock()
		return errors.Wrapf(err, "could not start %s", e)
	}
	return nil
}

// Stop tears the sandbox down. The status becomes STOPPED even if the runtime
// reports an error.
func (e *Environment) Stop() error {
	e.mu.Lock()
	e.status = STOPPED
	e.mu.Unlock()
	return e.runtime.Stop(e)
}

// Invoke hands an invocation to the environment. It fails with
// ErrInvalidStatus unless the environment is READY.
func (e *Environment) Invoke(invocationID string, inv *function.Invocation) error {
	e.mu.Lock()
	if e.status != READY {
		s := e.status
		e.mu.Unlock()
		return errors.Wrapf(ErrInvalidStatus, "cannot invoke %s in status %s", e, s)
	}
	e.status = RUNNING
	e.mu.Unlock()

	if err := e.runtime.Invoke(e, invocationID, inv); err != nil {
		// the invocation may have completed and released the environment
		// before the runtime reported the error
		e.mu.Lock()
		if e.status == RUNNING {
			e.status = FAILED
		}
		e.mu.Unlock()
		return errors.Wrapf(err, "could not hand invocation %s to %s", invocationID, e)
	}
	return nil
}

func (e *Environment) setReady() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.status {
	case STARTING, READY:
		e.status = READY
		return nil
	}
	return errors.Wrapf(ErrInvalidStatus, "%s cannot become ready from status %s", e, e.status)
}

func (e *Environment) invocationDone() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != RUNNING {
		return errors.Wrapf(ErrInvalidStatus, "%s finished an invocation in status %s", e, e.status)
	}
	e.status = READY
	return nil
}

// Errored records a failure observed by the runtime itself. Pool membership is
// left untouched; see EnvironmentPool.MarkFailed.
func (e *Environment) Errored() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != STOPPED {
		e.status = FAILED
	}
}
