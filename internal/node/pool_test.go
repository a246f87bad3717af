package node

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverledge-faas/fnscheduler/internal/function"
)

type fakeRuntime struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	invoked  []string
	startErr error
	stopErr  map[string]error
}

func (r *fakeRuntime) Start(env *Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, env.ID)
	return r.startErr
}

func (r *fakeRuntime) Stop(env *Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, env.ID)
	return r.stopErr[env.ID]
}

func (r *fakeRuntime) Invoke(env *Environment, id string, _ *function.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoked = append(r.invoked, id)
	return nil
}

func newTestPool(rt Runtime) *EnvironmentPool {
	v := &function.Version{Name: "test", Qualifier: "1"}
	return NewEnvironmentPool(v, rt, logrus.NewEntry(logrus.StandardLogger()))
}

func readyEnv(t *testing.T, p *EnvironmentPool) *Environment {
	env, err := p.Provision()
	require.NoError(t, err)
	require.Equal(t, STARTING, env.Status())
	require.NoError(t, p.MarkReady(env.ID))
	return env
}

func TestProvisionRegistersDistinctEnvironments(t *testing.T) {
	rt := &fakeRuntime{}
	p := newTestPool(rt)
	p.SetEndpoint("http://127.0.0.1:1234")

	e1, err := p.Provision()
	require.NoError(t, err)
	e2, err := p.Provision()
	require.NoError(t, err)

	assert.NotEqual(t, e1.ID, e2.ID)
	assert.Equal(t, "http://127.0.0.1:1234", e1.Endpoint)
	assert.Equal(t, 2, p.CountByStatus(STARTING))
	assert.Equal(t, 2, p.ActiveCount())
	assert.Equal(t, 0, p.IdleCount())
	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, rt.started)
}

func TestProvisionFailureMarksFailed(t *testing.T) {
	p := newTestPool(&fakeRuntime{startErr: errors.New("boom")})
	env, err := p.Provision()
	require.Error(t, err)
	assert.Equal(t, FAILED, env.Status())
	assert.Equal(t, 0, p.ActiveCount())
}

func TestAcquireIsLIFO(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	e1 := readyEnv(t, p)
	e2 := readyEnv(t, p)

	got, err := p.AcquireIdle(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, e2, got)

	got, err = p.AcquireIdle(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, e1, got)
}

func TestAcquireTimesOut(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	start := time.Now()
	_, err := p.AcquireIdle(20 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrNoIdleEnvironment))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAcquireWakesOnReady(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	env, err := p.Provision()
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.MarkReady(env.ID)
	}()
	got, err := p.AcquireIdle(2 * time.Second)
	require.NoError(t, err)
	assert.Same(t, env, got)
}

func TestMarkReadyUnknownEnvironment(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	err := p.MarkReady("nope")
	assert.True(t, errors.Is(err, ErrUnknownEnvironment))
	_, err = p.MarkFailed("nope")
	assert.True(t, errors.Is(err, ErrUnknownEnvironment))
}

func TestMarkReadyTwiceDoesNotDuplicate(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	env := readyEnv(t, p)
	require.NoError(t, p.MarkReady(env.ID))
	assert.Equal(t, 1, p.IdleCount())
}

func TestIdleMembershipFollowsStatus(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	env := readyEnv(t, p)
	assert.True(t, p.IsIdle(env))
	assert.Equal(t, READY, env.Status())

	got, err := p.AcquireIdle(10 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, got.Invoke("inv-1", function.NewInvocation(nil, nil)))
	assert.False(t, p.IsIdle(env))
	assert.Equal(t, RUNNING, env.Status())

	require.NoError(t, p.Release(env))
	assert.True(t, p.IsIdle(env))
	assert.Equal(t, READY, env.Status())

	_, err = p.MarkFailed(env.ID)
	require.NoError(t, err)
	assert.False(t, p.IsIdle(env))
	assert.Equal(t, FAILED, env.Status())

	// a failed environment cannot come back
	assert.True(t, errors.Is(p.MarkReady(env.ID), ErrInvalidStatus))
	assert.False(t, p.IsIdle(env))
}

func TestInvokeRequiresReady(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	env, err := p.Provision()
	require.NoError(t, err)

	err = env.Invoke("inv-1", function.NewInvocation(nil, nil))
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestReleaseOfFailedEnvironment(t *testing.T) {
	p := newTestPool(&fakeRuntime{})
	env := readyEnv(t, p)
	got, err := p.AcquireIdle(10 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, got.Invoke("inv-1", function.NewInvocation(nil, nil)))
	env.Errored()

	assert.True(t, errors.Is(p.Release(env), ErrInvalidStatus))
	assert.Equal(t, 0, p.IdleCount())
}

func TestStopAllIsBestEffort(t *testing.T) {
	rt := &fakeRuntime{stopErr: map[string]error{}}
	p := newTestPool(rt)
	e1 := readyEnv(t, p)
	e2, err := p.Provision()
	require.NoError(t, err)
	rt.stopErr[e1.ID] = errors.New("cannot stop")

	p.StopAll()

	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, rt.stopped)
	assert.Equal(t, 0, p.IdleCount())
	assert.Equal(t, 0, p.ActiveCount())
	// the environment that failed to stop is still tracked
	_, err = p.Get(e1.ID)
	assert.NoError(t, err)
	_, err = p.Get(e2.ID)
	assert.True(t, errors.Is(err, ErrUnknownEnvironment))
}
