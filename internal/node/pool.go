package node

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/serverledge-faas/fnscheduler/internal/function"
)

// EnvironmentPool keeps track of every environment of one function version
// plus the stack of idle, READY environments.
//
// Lock order is pool.mu before Environment.mu. Environment methods never take
// pool.mu, so status changes that go through the pool are atomic with respect
// to idle-collection membership.
type EnvironmentPool struct {
	version *function.Version
	runtime Runtime
	log     *logrus.Entry

	mu       sync.Mutex
	cond     *sync.Cond
	endpoint string
	all      map[string]*Environment
	// for better efficiency we use a slice as a stack, plus a set for membership
	idle    []*Environment
	idleSet map[*Environment]struct{}
}

func NewEnvironmentPool(v *function.Version, rt Runtime, log *logrus.Entry) *EnvironmentPool {
	p := &EnvironmentPool{
		version: v,
		runtime: rt,
		log:     log,
		all:     make(map[string]*Environment),
		idle:    make([]*Environment, 0, 10),
		idleSet: make(map[*Environment]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetEndpoint sets the callback address handed to environments provisioned
// from now on.
func (p *EnvironmentPool) SetEndpoint(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = endpoint
}

// Provision registers a new environment and triggers its startup. A startup
// failure leaves the environment registered as FAILED.
func (p *EnvironmentPool) Provision() (*Environment, error) {
	p.mu.Lock()
	env := newEnvironment(p.version, p.endpoint, p.runtime)
	p.all[env.ID] = env
	p.mu.Unlock()

	p.log.WithField("environment", env.ID).Debug("Starting new environment")
	if err := env.Start(); err != nil {
		p.log.WithError(err).WithField("environment", env.ID).Warn("Environment startup failed")
		return env, err
	}
	return env, nil
}

func (p *EnvironmentPool) get(id string) (*Environment, error) {
	env, ok := p.all[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEnvironment, "environment %q is not registered", id)
	}
	return env, nil
}

// Get returns a registered environment.
func (p *EnvironmentPool) Get(id string) (*Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(id)
}

func (p *EnvironmentPool) pushIdleLocked(env *Environment) {
	if _, ok := p.idleSet[env]; ok {
		return
	}
	p.idleSet[env] = struct{}{}
	p.idle = append(p.idle, env)
	p.cond.Broadcast()
}

func (p *EnvironmentPool) popIdleLocked() (*Environment, bool) {
	n := len(p.idle)
	if n == 0 {
		return nil, false
	}
	// LIFO: the most recently idled environment is the warmest
	env := p.idle[n-1]

	p.idle[n-1] = nil // to favor garbage collection
	p.idle = p.idle[:n-1]
	delete(p.idleSet, env)
	return env, true
}

func (p *EnvironmentPool) removeIdleLocked(target *Environment) bool {
	if _, ok := p.idleSet[target]; !ok {
		return false
	}
	delete(p.idleSet, target)
	for i, env := range p.idle {
		if env == target {
			copy(p.idle[i:], p.idle[i+1:])
			p.idle[len(p.idle)-1] = nil
			p.idle = p.idle[:len(p.idle)-1]
			break
		}
	}
	return true
}

// AcquireIdle waits up to timeout for an idle environment and removes it from
// the idle collection. It returns ErrNoIdleEnvironment on timeout.
func (p *EnvironmentPool) AcquireIdle(timeout time.Duration) (*Environment, error) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoIdleEnvironment
		}
		// sync.Cond has no timeout; a timer broadcast wakes us at the deadline
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	env, _ := p.popIdleLocked()
	return env, nil
}

// MarkReady transitions an environment to READY and makes it available.
func (p *EnvironmentPool) MarkReady(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, err := p.get(id)
	if err != nil {
		return err
	}
	if err := env.setReady(); err != nil {
		return err
	}
	p.pushIdleLocked(env)
	return nil
}

// MarkFailed retires an environment. It is never handed out again.
func (p *EnvironmentPool) MarkFailed(id string) (*Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, err := p.get(id)
	if err != nil {
		return nil, err
	}
	env.Errored()
	p.removeIdleLocked(env)
	return env, nil
}

// Release returns an environment to the idle collection after it completed an
// invocation.
func (p *EnvironmentPool) Release(env *Environment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := env.invocationDone(); err != nil {
		return err
	}
	p.pushIdleLocked(env)
	return nil
}

// Discard drops an environment found unusable at hand-off time. It stays
// registered so it is still stopped on shutdown.
func (p *EnvironmentPool) Discard(env *Environment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeIdleLocked(env)
}

func (p *EnvironmentPool) CountByStatus(statuses ...Status) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, env := range p.all {
		s := env.Status()
		for _, wanted := range statuses {
			if s == wanted {
				count++
				break
			}
		}
	}
	return count
}

// ActiveCount counts environments that are starting, ready or running.
func (p *EnvironmentPool) ActiveCount() int {
	return p.CountByStatus(STARTING, READY, RUNNING)
}

func (p *EnvironmentPool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// IsIdle reports whether env is currently in the idle collection.
func (p *EnvironmentPool) IsIdle(env *Environment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.idleSet[env]
	return ok
}

// StatusSummary returns the number of environments per status.
func (p *EnvironmentPool) StatusSummary() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	summary := make(map[string]int)
	for _, env := range p.all {
		summary[env.Status().String()]++
	}
	return summary
}

// StopAll stops every registered environment. Failures are logged and do not
// interrupt the teardown.
func (p *EnvironmentPool) StopAll() {
	p.mu.Lock()
	envs := maps.Values(p.all)
	for i := range p.idle {
		p.idle[i] = nil
	}
	p.idle = p.idle[:0]
	clear(p.idleSet)
	p.mu.Unlock()

	for _, env := range envs {
		if err := env.Stop(); err != nil {
			p.log.WithError(err).WithField("environment", env.ID).Warn("Error while stopping environment")
			continue
		}
		p.mu.Lock()
		delete(p.all, env.ID)
		p.mu.Unlock()
	}
}
