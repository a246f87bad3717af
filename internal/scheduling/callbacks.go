package scheduling

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/logs"
	"github.com/serverledge-faas/fnscheduler/internal/metrics"
)

// Callbacks from the executor endpoint. Each may run concurrently with the
// dispatch loop and with callbacks from other environments.

// OnResult completes an invocation. Buffered logs are attached when the
// result carries none.
func (m *VersionManager) OnResult(invocationID string, result *function.InvocationResult) error {
	m.log.WithField("invocation", invocationID).Debug("Got invocation result")
	record, err := m.inFlight.pop(invocationID)
	if err != nil {
		m.log.WithError(err).Error("Cannot map invocation result")
		return err
	}
	result.InvocationID = invocationID
	if result.Logs == "" {
		result.Logs = record.logs
	}
	m.complete(record, result)
	return nil
}

// OnInvocationError completes an invocation whose function raised.
func (m *VersionManager) OnInvocationError(invocationID string, invErr *function.InvocationError) error {
	m.log.WithField("invocation", invocationID).Debug("Got invocation error")
	record, err := m.inFlight.pop(invocationID)
	if err != nil {
		m.log.WithError(err).Error("Cannot map invocation error")
		return err
	}
	result := &function.InvocationResult{
		InvocationID: invocationID,
		Payload:      invErr.Payload,
		Logs:         invErr.Logs,
		IsError:      true,
	}
	if result.Logs == "" {
		result.Logs = record.logs
	}
	m.complete(record, result)
	return nil
}

func (m *VersionManager) complete(record *runningInvocation, result *function.InvocationResult) {
	env := record.env
	// released before resolving, so that a caller invoking again right away
	// finds the environment warm
	if err := m.pool.Release(env); err != nil {
		m.log.WithError(err).WithField("environment", env.ID).Warn("Environment not returned to the idle pool")
	}
	if err := record.ticket.resolve(result, nil); err != nil {
		m.log.WithError(err).Error("Invocation resolved twice")
	}
	m.relay.Add(logs.Item{LogGroup: env.LogGroupName(), LogStream: env.LogStreamName(), Logs: result.Logs})

	outcome := "success"
	if result.IsError {
		outcome = "error"
	}
	metrics.AddCompletedInvocation(m.version.Name, outcome, time.Since(record.startTime).Seconds())
	metrics.SetInFlight(m.version.Name, m.inFlight.len())
}

// OnLogs buffers logs that arrive before the result.
func (m *VersionManager) OnLogs(invocationID string, invLogs *function.InvocationLogs) error {
	entry := m.log.WithField("invocation", invocationID)
	if entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, line := range strings.Split(invLogs.Logs, "\n") {
			entry.Debugf("> %s", line)
		}
	}
	if err := m.inFlight.setLogs(invocationID, invLogs.Logs); err != nil {
		entry.WithError(err).Error("Cannot map invocation logs")
		return err
	}
	return nil
}

func (m *VersionManager) OnEnvironmentReady(environmentID string) error {
	if err := m.pool.MarkReady(environmentID); err != nil {
		m.log.WithError(err).WithField("environment", environmentID).Error("Cannot mark environment ready")
		return err
	}
	return nil
}

// OnEnvironmentError retires the environment. Invocations running on it are
// failed with ErrEnvironmentFailed; they are not retried.
func (m *VersionManager) OnEnvironmentError(environmentID string) error {
	env, err := m.pool.MarkFailed(environmentID)
	if err != nil {
		m.log.WithError(err).WithField("environment", environmentID).Error("Cannot mark environment failed")
		return err
	}
	m.log.WithField("environment", environmentID).Warn("Environment reported an error")
	for _, record := range m.inFlight.popByEnvironment(env) {
		m.log.WithFields(logrus.Fields{"invocation": record.ticket.ID, "environment": env.ID}).
			Warn("Failing invocation running on failed environment")
		_ = record.ticket.resolve(nil, ErrEnvironmentFailed)
	}
	metrics.SetInFlight(m.version.Name, m.inFlight.len())
	return nil
}
