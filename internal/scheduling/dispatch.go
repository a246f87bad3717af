package scheduling

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/metrics"
	"github.com/serverledge-faas/fnscheduler/internal/node"
)

// dispatchLoop matches queued tickets with idle environments. Every wait is
// bounded so that a stop request is observed promptly.
func (m *VersionManager) dispatchLoop() {
	defer close(m.loopDone)
	for {
		ticket, ok := m.queue.Poll(m.opts.PollInterval)
		if !ok {
			if m.shutdown.Load() {
				m.log.Debug("Dispatch loop stopped while waiting for invocations")
				return
			}
			continue
		}
		m.log.WithField("invocation", ticket.ID).Debug("Got invocation in dispatch loop")

		if !m.dispatch(ticket) {
			m.log.WithField("invocation", ticket.ID).Debug("Dispatch loop stopped while waiting for environments")
			_ = ticket.resolve(nil, ErrManagerStopped)
			return
		}
	}
}

// dispatch hands ticket to an environment. It returns false only if the
// manager is stopping before an environment became available.
func (m *VersionManager) dispatch(ticket *Ticket) bool {
	if m.pool.IdleCount() == 0 || m.pool.ActiveCount() == 0 {
		m.provision()
	}

	for {
		env, err := m.pool.AcquireIdle(m.opts.AcquireTimeout)
		if err != nil {
			if m.pool.ActiveCount() == 0 {
				m.provision()
			}
			if m.shutdown.Load() {
				return false
			}
			continue
		}

		// the record must exist before the environment can call back
		record := &runningInvocation{ticket: ticket, env: env, startTime: time.Now()}
		if err := m.inFlight.put(record); err != nil {
			m.log.WithError(err).Error("Invocation dispatched twice")
			_ = m.pool.MarkReady(env.ID)
			return true
		}

		if err := env.Invoke(ticket.ID, ticket.Invocation); err != nil {
			entry := m.log.WithError(err).WithFields(logrus.Fields{"invocation": ticket.ID, "environment": env.ID})
			// a callback that already took the record means the worker got
			// the invocation; it must not be handed out again
			if _, perr := m.inFlight.pop(ticket.ID); perr != nil {
				entry.Warn("Hand-off reported an error after the invocation was delivered")
				return true
			}
			m.pool.Discard(env)
			ticket.Retries++
			metrics.AddDispatchRetry(m.version.Name)

			if errors.Is(err, node.ErrInvalidStatus) {
				entry.Debug("Retrieved environment in invalid state. Trying the next...")
			} else {
				entry.Warn("Could not hand invocation to environment. Trying the next...")
			}
			continue
		}

		ticket.span.AddEvent("dispatched")
		metrics.SetInFlight(m.version.Name, m.inFlight.len())
		m.log.WithFields(logrus.Fields{"invocation": ticket.ID, "environment": env.ID}).Debug("Invocation dispatched")
		return true
	}
}

// provision starts a new environment unless the configured ceiling is reached.
func (m *VersionManager) provision() {
	if max := m.opts.MaxEnvironments; max > 0 && m.pool.ActiveCount() >= max {
		return
	}
	env, err := m.pool.Provision()
	if err != nil {
		// surfaces again through the acquisition timeout path
		return
	}
	metrics.AddProvisionedEnvironment(m.version.Name)
	m.log.WithField("environment", env.ID).Debug("Provisioned environment")
}
