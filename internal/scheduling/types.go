package scheduling

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/endpoint"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/logs"
	"github.com/serverledge-faas/fnscheduler/internal/node"
)

var ErrUnknownInvocation = errors.Wrap(function.ErrInconsistentState, "unknown invocation")
var ErrDuplicateInvocation = errors.Wrap(function.ErrInconsistentState, "invocation already in flight")
var ErrAlreadyResolved = errors.New("future already resolved")
var ErrEnvironmentFailed = errors.New("environment failed while running the invocation")
var ErrManagerStopped = errors.New("function version manager stopped")

type State string

const (
	StateInactive State = "Inactive"
	StatePending  State = "Pending"
	StateActive   State = "Active"
	StateFailed   State = "Failed"
)

// ImagePreparer makes a version runnable before any environment starts.
type ImagePreparer interface {
	PrepareVersion(ctx context.Context, v *function.Version) error
	CleanupVersion(ctx context.Context, v *function.Version) error
}

// Transport carries callbacks from workers to the scheduler.
type Transport interface {
	Start() error
	Shutdown(ctx context.Context) error
	URL() string
}

// TransportFactory builds a transport bound to port that delivers callbacks to sink.
type TransportFactory func(port int, sink endpoint.ServiceEndpoint) (Transport, error)

func defaultTransport(port int, sink endpoint.ServiceEndpoint) (Transport, error) {
	return endpoint.NewExecutorEndpoint(port, sink)
}

type Options struct {
	Runtime      node.Runtime
	Preparer     ImagePreparer
	LogSink      logs.Sink
	NewTransport TransportFactory

	// MaxEnvironments bounds starting+ready+running environments; 0 means no bound.
	MaxEnvironments int

	PollInterval   time.Duration
	AcquireTimeout time.Duration
	StopTimeout    time.Duration
	LogStopTimeout time.Duration
}

// OptionsFromConfig fills tuning values from the configuration. Collaborators
// are left to the caller.
func OptionsFromConfig() Options {
	return Options{
		NewTransport:    defaultTransport,
		MaxEnvironments: config.GetInt(config.SCHEDULER_MAX_ENVIRONMENTS, 0),
		PollInterval:    config.GetMillis(config.SCHEDULER_POLL_INTERVAL, 500*time.Millisecond),
		AcquireTimeout:  config.GetMillis(config.SCHEDULER_ACQUIRE_TIMEOUT, time.Second),
		StopTimeout:     config.GetMillis(config.SCHEDULER_STOP_TIMEOUT, 5*time.Second),
		LogStopTimeout:  config.GetMillis(config.LOGS_STOP_TIMEOUT, 2*time.Second),
	}
}

func (o Options) withDefaults() Options {
	if o.NewTransport == nil {
		o.NewTransport = defaultTransport
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.LogStopTimeout <= 0 {
		o.LogStopTimeout = 2 * time.Second
	}
	return o
}

// ManagerStatus is a point-in-time view of a version manager.
type ManagerStatus struct {
	Function               string         `json:"function"`
	State                  State          `json:"state"`
	Environments           map[string]int `json:"environments"`
	Queued                 int            `json:"queued"`
	InFlight               int            `json:"in_flight"`
	ProvisionedConcurrency int            `json:"provisioned_concurrency"`
}
