package scheduling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/logs"
	"github.com/serverledge-faas/fnscheduler/internal/metrics"
	"github.com/serverledge-faas/fnscheduler/internal/node"
	"github.com/serverledge-faas/fnscheduler/internal/queue"
	"github.com/serverledge-faas/fnscheduler/utils"
)

// VersionManager schedules the invocations of one function version onto a
// pool of environments. It owns the invocation queue, the environment pool and
// the in-flight table; none of them is shared with other versions.
type VersionManager struct {
	version *function.Version
	opts    Options
	log     *logrus.Entry

	queue    *queue.FIFO[*Ticket]
	pool     *node.EnvironmentPool
	inFlight *inFlightTable
	relay    *logs.Relay

	transport Transport
	shutdown  atomic.Bool
	loopDone  chan struct{}

	mu                     sync.Mutex
	state                  State
	provisionedConcurrency int
}

func NewVersionManager(v *function.Version, opts Options) *VersionManager {
	opts = opts.withDefaults()
	if opts.LogSink == nil {
		opts.LogSink = logs.NewLoggerSink(logrus.StandardLogger())
	}
	if opts.Preparer == nil {
		opts.Preparer = noopPreparer{}
	}
	log := logrus.WithField("function", v.ARN())
	return &VersionManager{
		version:  v,
		opts:     opts,
		log:      log,
		queue:    queue.NewFIFO[*Ticket](),
		pool:     node.NewEnvironmentPool(v, opts.Runtime, log),
		inFlight: newInFlightTable(),
		relay:    logs.NewRelay(opts.LogSink, opts.PollInterval, opts.LogStopTimeout, log.WithField("component", "log-relay")),
		state:    StateInactive,
	}
}

func (m *VersionManager) Version() *function.Version {
	return m.version
}

func (m *VersionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *VersionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.log.WithField("state", s).Debug("Version state changed")
}

// Start brings up the executor endpoint, the dispatch loop and the log relay,
// then prepares the version image. The version is Active once Start returns
// without error.
func (m *VersionManager) Start(ctx context.Context) error {
	m.setState(StatePending)

	port, err := utils.GetFreeTCPPort()
	if err != nil {
		m.setState(StateFailed)
		return err
	}
	transport, err := m.opts.NewTransport(port, m)
	if err != nil {
		m.setState(StateFailed)
		return err
	}
	if err := transport.Start(); err != nil {
		m.setState(StateFailed)
		return err
	}
	m.transport = transport
	m.pool.SetEndpoint(transport.URL())

	m.loopDone = make(chan struct{})
	go m.dispatchLoop()
	m.relay.Start()

	if err := m.opts.Preparer.PrepareVersion(ctx, m.version); err != nil {
		m.log.WithError(err).Error("Could not prepare version")
		m.stopServices(ctx)
		m.failPending()
		m.setState(StateFailed)
		return err
	}
	m.setState(StateActive)
	m.log.Info("Version manager started")
	return nil
}

// Stop tears everything down. Every step is best-effort: failures are logged
// and teardown continues.
func (m *VersionManager) Stop(ctx context.Context) {
	m.log.Debug("Stopping version manager")
	if err := m.opts.Preparer.CleanupVersion(ctx, m.version); err != nil {
		m.log.WithError(err).Warn("Error while cleaning up version")
	}

	m.stopServices(ctx)
	m.pool.StopAll()
	m.failPending()
	m.setState(StateInactive)
}

// stopServices stops the dispatch loop, the executor endpoint and the log
// relay. It is safe to call more than once.
func (m *VersionManager) stopServices(ctx context.Context) {
	m.shutdown.Store(true)
	if m.loopDone != nil {
		select {
		case <-m.loopDone:
			m.log.Debug("Dispatch loop stopped")
		case <-time.After(m.opts.StopTimeout):
			m.log.Warnf("Dispatch loop did not stop after %s", m.opts.StopTimeout)
		}
	}

	if m.transport != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.opts.StopTimeout)
		if err := m.transport.Shutdown(shutdownCtx); err != nil {
			m.log.WithError(err).Debug("Error while stopping executor endpoint")
		}
		cancel()
		m.transport = nil
	}

	m.relay.Stop()
}

// failPending resolves the tickets left behind by a stop so that no caller
// waits forever.
func (m *VersionManager) failPending() {
	for _, t := range m.queue.Drain() {
		_ = t.resolve(nil, ErrManagerStopped)
	}
	for _, r := range m.inFlight.popAll() {
		_ = r.ticket.resolve(nil, ErrManagerStopped)
	}
}

// Invoke accepts an invocation and returns its pending result. It never blocks.
func (m *VersionManager) Invoke(inv *function.Invocation) *Future {
	if inv.Ctx == nil {
		inv.Ctx = context.Background()
	}
	t := newTicket(inv)
	m.queue.Put(t)
	metrics.AddSubmittedInvocation(m.version.Name)
	m.log.WithField("invocation", t.ID).Debug("Invocation queued")
	return t.Future
}

// UpdateProvisionedConcurrency records the requested value. Environments are
// still provisioned on demand only.
func (m *VersionManager) UpdateProvisionedConcurrency(n int) {
	m.mu.Lock()
	m.provisionedConcurrency = n
	m.mu.Unlock()
	// TODO: pre-start n environments marked "provisioned-concurrency" and keep them out of LIFO aging
}

func (m *VersionManager) Status() ManagerStatus {
	m.mu.Lock()
	state, pc := m.state, m.provisionedConcurrency
	m.mu.Unlock()
	return ManagerStatus{
		Function:               m.version.ARN(),
		State:                  state,
		Environments:           m.pool.StatusSummary(),
		Queued:                 m.queue.Len(),
		InFlight:               m.inFlight.len(),
		ProvisionedConcurrency: pc,
	}
}

type noopPreparer struct{}

func (noopPreparer) PrepareVersion(context.Context, *function.Version) error { return nil }
func (noopPreparer) CleanupVersion(context.Context, *function.Version) error { return nil }
